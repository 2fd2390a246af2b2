// README: End-to-end dispatch race check against a running API: many drivers accept one ride at once.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"campusride/internal/infra"
)

type raceOptions struct {
	baseURL string
	drivers int
	timeout time.Duration
}

func newRaceCommand(opts *rootOptions) *cobra.Command {
	ro := &raceOptions{}
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Register drivers, request one ride, and have every driver accept it concurrently",
		Long: `race needs a running API that trusts CAMPUSRIDE_JWT_SECRET. It registers
--drivers drivers, approves and funds them, requests one ride as a fresh student
and fires every accept at once. Exactly one accept must succeed and every other
must be rejected with 409. The ride is cancelled afterwards to release the lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Auth.JWTSecret == "" {
				return errors.New("CAMPUSRIDE_JWT_SECRET is not set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), ro.timeout)
			defer cancel()

			r := &racer{
				base:   strings.TrimRight(ro.baseURL, "/"),
				secret: opts.cfg.Auth.JWTSecret,
				httpc:  &http.Client{Timeout: 10 * time.Second},
				tag:    uuid.NewString()[:8],
			}
			res, err := r.run(ctx, ro.drivers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ride=%s accepted=%d conflict=%d other=%d latency=%s\n",
				res.rideID, res.accepted, res.conflicts, res.other, res.latency)
			if res.accepted != 1 || res.other > 0 {
				return fmt.Errorf("expected exactly one accept and only 409 rejections")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ro.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().IntVar(&ro.drivers, "drivers", 20, "number of competing drivers")
	cmd.Flags().DurationVar(&ro.timeout, "timeout", 60*time.Second, "total timeout")
	return cmd
}

type racer struct {
	base   string
	secret string
	httpc  *http.Client
	tag    string
}

type raceResult struct {
	rideID    string
	accepted  int
	conflicts int
	other     int
	latency   time.Duration
}

func (r *racer) token(uid, role string) (string, error) {
	return infra.SignJWT(r.secret, uid, role, time.Hour)
}

func (r *racer) call(ctx context.Context, method, path, tok string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (r *racer) expect(ctx context.Context, want int, method, path, tok string, body, out any) error {
	status, err := r.call(ctx, method, path, tok, body, out)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if status != want {
		return fmt.Errorf("%s %s: status %d, want %d", method, path, status, want)
	}
	return nil
}

// prepareDriver returns a token for an approved, funded, online driver.
func (r *racer) prepareDriver(ctx context.Context, admin string, i int) (string, error) {
	uid := fmt.Sprintf("race-%s-driver-%d", r.tag, i)
	tok, err := r.token(uid, infra.RoleDriver)
	if err != nil {
		return "", err
	}
	var d struct {
		ID string `json:"id"`
	}
	if err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/driver/register", tok, map[string]any{
		"vehicle_type": "scooter", "vehicle_number": uid, "license_number": uid,
	}, &d); err != nil {
		return "", err
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/admin/drivers/"+d.ID+"/approve", admin, nil, nil); err != nil {
		return "", err
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/admin/drivers/"+d.ID+"/wallet/topup", admin,
		map[string]any{"amount": 100, "description": "race check"}, nil); err != nil {
		return "", err
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/driver/online", tok, map[string]any{"online": true}, nil); err != nil {
		return "", err
	}
	return tok, nil
}

func (r *racer) run(ctx context.Context, n int) (raceResult, error) {
	if n < 2 {
		return raceResult{}, errors.New("need at least two drivers")
	}
	admin, err := r.token("race-"+r.tag+"-admin", infra.RoleAdmin)
	if err != nil {
		return raceResult{}, err
	}
	student, err := r.token("race-"+r.tag+"-student", infra.RoleStudent)
	if err != nil {
		return raceResult{}, err
	}

	drivers := make([]string, n)
	for i := range drivers {
		if drivers[i], err = r.prepareDriver(ctx, admin, i); err != nil {
			return raceResult{}, err
		}
	}

	var ride struct {
		ID string `json:"id"`
	}
	if err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/rides", student, map[string]any{
		"pickup":  map[string]any{"lat": 25.0174, "lng": 121.5398},
		"dropoff": map[string]any{"lat": 25.0263, "lng": 121.5437},
	}, &ride); err != nil {
		return raceResult{}, err
	}

	res := raceResult{rideID: ride.ID}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for _, tok := range drivers {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			status, err := r.call(ctx, http.MethodPost, "/api/driver/rides/"+ride.ID+"/accept", tok, nil, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && status == http.StatusOK:
				res.accepted++
			case err == nil && status == http.StatusConflict:
				res.conflicts++
			default:
				res.other++
			}
		}(tok)
	}
	began := time.Now()
	close(start)
	wg.Wait()
	res.latency = time.Since(began)

	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/admin/rides/"+ride.ID+"/cancel", admin,
		map[string]any{"reason": "race check"}, nil); err != nil {
		return res, err
	}
	return res, nil
}
