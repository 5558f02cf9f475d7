package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"blitiri.com.ar/go/dkimverify/internal/config"
	"blitiri.com.ar/go/dkimverify/internal/dkim"
)

// dkimverify verify [-v] [-config=<path>]
func verify() {
	msg, err := io.ReadAll(os.Stdin)
	if err != nil {
		Fatalf("%v", err)
	}

	cfg := config.Default()
	if p, ok := args["-config"]; ok {
		cfg, err = config.Load(p)
		if err != nil {
			Fatalf("Error loading config: %v", err)
		}
	}

	ctx := context.Background()
	if _, verbose := args["-v"]; verbose {
		ctx = dkim.WithTraceFunc(ctx,
			func(format string, a ...interface{}) {
				fmt.Fprintf(os.Stderr, format+"\n", a...)
			})
	}

	result, err := dkim.Verify(ctx, string(msg), dkim.NewDNSKeyProvider(), cfg)
	if err != nil {
		Fatalf("Error verifying message: %v", err)
	}

	for i, verdicts := range result.Results {
		for _, v := range verdicts {
			fmt.Printf("signature %d: %s/%s  selector=%s domain=%s",
				i, v.Status, v.Substatus, v.Selector, v.Domain)
			if v.Reason != "" {
				fmt.Printf("  (%s)", v.Reason)
			}
			fmt.Println()
		}
	}

	hostname, _ := os.Hostname()
	ar := "Authentication-Results: " + hostname + "\r\n\t"
	ar += strings.ReplaceAll(result.AuthenticationResults(), "\r\n", "\r\n\t")
	fmt.Println(ar)

	if !result.Valid() {
		os.Exit(1)
	}
}
