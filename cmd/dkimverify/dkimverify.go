// dkimverify is a command-line utility for DKIM-related operations.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Usage to show users on --help or invocation errors.
const usage = `
Usage:
  dkimverify [options] verify
    Read a message from stdin, verify its DKIM signatures, and print a
    verdict line per signature plus an Authentication-Results fragment.
  dkimverify [options] keygen <domain> [<selector>] [--algo=rsa3072|rsa4096|ed25519]
    Generate a new DKIM key pair for the domain, for test fixtures.
  dkimverify [options] dns <domain> <selector> <private-key.pem>
    Print the DNS TXT record to use for the domain, selector and
    private key.

Options:
  -config=<path>  Path to the verifier's YAML config file
  -v              Verbose mode (prints a trace of each verification step)
`

// Command-line arguments.
// Arguments starting with "-" will be parsed as key-value pairs, and
// positional arguments will appear as "$POS" -> value.
//
// For example, "--abc=def x y -p=q -r" will result in:
// {"--abc": "def", "$1": "x", "$2": "y", "-p": "q", "-r": ""}
var args map[string]string

func main() {
	args = parseArgs(usage)

	if _, ok := args["--help"]; ok {
		fmt.Print(usage)
		return
	}

	commands := map[string]func(){
		"verify": verify,
		"keygen": keygen,
		"dns":    dns,
	}

	cmd := args["$1"]
	if f, ok := commands[cmd]; ok {
		f()
	} else {
		fmt.Printf("Unknown argument %q\n", cmd)
		Fatalf(usage)
	}
}

// Fatalf prints the given message to stderr, then exits the program with an
// error code.
func Fatalf(s string, arg ...interface{}) {
	fmt.Fprintf(os.Stderr, s+"\n", arg...)
	os.Exit(1)
}

// parseArgs parses the command line arguments, and returns a map.
//
// Arguments starting with "-" will be parsed as key-value pairs, and
// positional arguments will appear as "$POS" -> value.
//
// For example, "--abc=def x y -p=q -r" will result in:
// {"--abc": "def", "$1": "x", "$2": "y", "-p": "q", "-r": ""}
func parseArgs(usage string) map[string]string {
	args := map[string]string{}

	pos := 1
	for _, a := range os.Args[1:] {
		if strings.HasPrefix(a, "-") {
			sp := strings.SplitN(a, "=", 2)
			if len(sp) < 2 {
				args[a] = ""
			} else {
				args[sp[0]] = sp[1]
			}
		} else {
			args["$"+strconv.Itoa(pos)] = a
			pos++
		}
	}

	return args
}
