package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	asmtp "github.com/relaydispatch/go-asmtp"
	alog "github.com/relaydispatch/go-asmtp/log"
)

// Profile describes one delivery target: host, auth, TLS policy and the timeout to apply.
// Environment variables always take precedence over the file, mirroring the proxy's own
// config layering.
type Profile struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	TLSLevel string `yaml:"tls_level"`
	Timeout  string `yaml:"timeout"`
}

func loadProfile(path string) (*Profile, error) {
	p := &Profile{Port: 587, TLSLevel: "optional", Timeout: "30s"}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse profile: %w", err)
		}
	}
	if v := os.Getenv("ASMTP_HOST"); v != "" {
		p.Host = v
	}
	if v := os.Getenv("ASMTP_USER"); v != "" {
		p.User = v
	}
	if v := os.Getenv("ASMTP_PASSWORD"); v != "" {
		p.Password = v
	}
	return p, nil
}

func (p *Profile) tlsLevel() asmtp.TLSLevel {
	switch strings.ToLower(p.TLSLevel) {
	case "disabled":
		return asmtp.TLSDisabled
	case "required":
		return asmtp.TLSRequired
	default:
		return asmtp.TLSOptional
	}
}

func main() {
	profilePath := flag.String("profile", "", "path to a YAML delivery profile")
	from := flag.String("from", "", "envelope sender address")
	to := flag.String("to", "", "recipient address")
	subject := flag.String("subject", "asmtp test message", "Subject header")
	body := flag.String("body", "This is a test message sent by asmtp-send.", "plain-text body")
	flag.Parse()

	profile, err := loadProfile(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asmtp-send: %s\n", err)
		os.Exit(1)
	}
	if profile.Host == "" || *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "asmtp-send: -profile with a host, -from and -to are required")
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(profile.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asmtp-send: bad timeout %q: %s\n", profile.Timeout, err)
		os.Exit(1)
	}

	opts := []asmtp.Option{
		asmtp.WithTLSLevel(profile.tlsLevel()),
		asmtp.WithTimeout(timeout),
		asmtp.WithLogger(alog.New(os.Stderr, alog.LevelWarn)),
	}
	if profile.User != "" {
		opts = append(opts,
			asmtp.WithUser(profile.User),
			asmtp.WithPassword(profile.Password),
			asmtp.WithAuthMech(asmtp.AuthAutoSelect),
		)
	}

	tr, err := asmtp.NewTransport(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asmtp-send: %s\n", err)
		os.Exit(1)
	}

	msg := asmtp.NewMessage(
		asmtp.WithFrom(asmtp.Address{Addr: *from}),
		asmtp.WithTo(asmtp.Address{Addr: *to}),
		asmtp.WithSubject(*subject),
		asmtp.WithBody(&asmtp.MimePart{
			ContentType: "text/plain; charset=utf-8",
			Inline:      []byte(*body),
		}),
	)

	tx, err := tr.Enqueue(msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asmtp-send: enqueue: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout*4)
	defer cancel()

	if err := tr.Run(ctx, profile.Host, profile.Port, ""); err != nil {
		fmt.Fprintf(os.Stderr, "asmtp-send: run: %s\n", err)
		os.Exit(1)
	}

	<-tx.Done()
	if txErr := tx.Err(); txErr != nil {
		fmt.Fprintf(os.Stderr, "asmtp-send: delivery failed: %s\n", txErr)
		os.Exit(1)
	}
	fmt.Printf("delivered %s (status %s)\n", tx.MessageID(), strconv.Itoa(tx.StatusCode()))
}
