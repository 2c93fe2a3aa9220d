// Command scanner is the front desk companion of the booking API.  It
// verifies scanned QR payloads online and keeps an encrypted queue of
// tokens scanned while the desk was offline, to be synced later.
//
//	scanner [flags] verify <scan>     verify online, queue the token if the API is unreachable
//	scanner [flags] enqueue <scan>    queue a token without contacting the API
//	scanner [flags] sync              replay queued tokens
//	scanner [flags] list              print queued tokens
//	scanner [flags] clear             drop the queue
//	scanner [flags] mint-token        print a staff access token signed with -jwt-secret
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/checkin"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/logging"
	"github.com/iliyamo/resort-booking-core/internal/model"
	"github.com/iliyamo/resort-booking-core/internal/utils"
)

type options struct {
	queuePath   string
	queueSecret string
	serverURL   string
	accessToken string
	jwtSecret   string
	subject     string
	scannerID   string
	timeout     time.Duration
	tokenTTL    time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var o options
	fs := flag.NewFlagSet("scanner", flag.ExitOnError)
	fs.StringVar(&o.queuePath, "queue", envOr("SCANNER_QUEUE_PATH", "scanner-queue.bin"), "offline queue file")
	fs.StringVar(&o.queueSecret, "queue-secret", os.Getenv("SCANNER_QUEUE_SECRET"), "offline queue passphrase")
	fs.StringVar(&o.serverURL, "server", envOr("SCANNER_SERVER_URL", "http://localhost:8080"), "booking API base URL")
	fs.StringVar(&o.accessToken, "access-token", os.Getenv("SCANNER_ACCESS_TOKEN"), "staff bearer token")
	fs.StringVar(&o.jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "mint a staff token with this secret when -access-token is empty")
	fs.StringVar(&o.subject, "subject", envOr("SCANNER_SUBJECT", "front-desk"), "subject of minted tokens")
	fs.StringVar(&o.scannerID, "id", envOr("SCANNER_ID", hostname()), "scanner id recorded with each check-in")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "per request timeout")
	fs.DurationVar(&o.tokenTTL, "token-ttl", 12*time.Hour, "lifetime of minted tokens")
	_ = fs.Parse(os.Args[1:])

	log := logging.Setup(envOr("APP_ENV", "development"), envOr("LOG_LEVEL", "info"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, fs.Args(), os.Stdout, log.WithField("component", "scanner")); err != nil {
		log.WithError(err).Error("scanner failed")
		os.Exit(1)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "scanner"
	}
	return h
}

func run(ctx context.Context, o options, args []string, out io.Writer, log *logrus.Entry) error {
	if len(args) == 0 {
		return errors.New("command required: verify, enqueue, sync, list, clear or mint-token")
	}
	cmd, rest := args[0], args[1:]

	if cmd == "mint-token" {
		tok, err := mint(o)
		if err != nil {
			return err
		}
		return printJSON(out, tok)
	}

	q, err := checkin.NewOfflineQueue(o.queuePath, o.queueSecret, clock.System{})
	if err != nil {
		return err
	}
	switch cmd {
	case "list":
		entries, err := q.Entries()
		if err != nil {
			return err
		}
		return printJSON(out, entries)
	case "clear":
		return q.Clear()
	case "enqueue":
		scan, err := scanArg(rest)
		if err != nil {
			return err
		}
		if scan.Token == nil {
			return errors.New("only QR tokens can be queued; codes need an online lookup")
		}
		added, err := q.Enqueue(*scan.Token, o.scannerID)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"queued": added, "jti": scan.Token.JTI})
	}

	v, err := verifier(o)
	if err != nil {
		return err
	}
	switch cmd {
	case "sync":
		report, err := q.Sync(ctx, v)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"synced": report.Synced, "dropped": report.Dropped, "kept": report.Kept}).Info("offline queue synced")
		return printJSON(out, report)
	case "verify":
		scan, err := scanArg(rest)
		if err != nil {
			return err
		}
		res, err := v.Verify(ctx, checkin.VerifyBody{Token: scan.Token, Code: scan.Code, ScannerID: o.scannerID})
		if err == nil {
			return printJSON(out, res)
		}
		if scan.Token == nil || !checkin.Retryable(err) {
			return err
		}
		log.WithError(err).Warn("booking api unreachable; queueing token for later sync")
		added, qerr := q.Enqueue(*scan.Token, o.scannerID)
		if qerr != nil {
			return qerr
		}
		return printJSON(out, map[string]any{"queued": added, "jti": scan.Token.JTI, "offline_mode": true})
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func scanArg(args []string) (checkin.Scan, error) {
	if len(args) == 0 {
		return checkin.Scan{}, errors.New("scan payload required")
	}
	return checkin.ParseScan(strings.Join(args, " "))
}

func mint(o options) (utils.AccessToken, error) {
	if o.jwtSecret == "" {
		return utils.AccessToken{}, errors.New("-jwt-secret is required to mint a token")
	}
	return utils.NewAccessToken(o.jwtSecret, o.subject, model.RoleAdmin, o.tokenTTL)
}

func verifier(o options) (*checkin.HTTPVerifier, error) {
	token := o.accessToken
	if token == "" {
		minted, err := mint(o)
		if err != nil {
			return nil, errors.New("an access token or a jwt secret is required to reach the API")
		}
		token = minted.Token
	}
	return checkin.NewHTTPVerifier(o.serverURL, token, o.timeout), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
