package repackager

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/oshokin/apk-patcher/internal/domain/apk"
)

// DefaultLogLevel is the tool verbosity passed with -l.
const DefaultLogLevel = 2

const maskedSecret = "******"

var (
	errNoInputs        = errors.New("at least one input file is required")
	errRelativeInput   = errors.New("input paths must be absolute")
	errNoOutputDir     = errors.New("output directory is required")
	errNoKeyStore      = errors.New("keystore is required")
	errIncompleteCreds = errors.New("store password, alias and key password are required")
)

// Invocation is one call of the repackaging tool.
type Invocation struct {
	Inputs    []string
	OutputDir string
	ModFile   string
	Signing   apk.Signing
	LogLevel  int
	Force     bool
	Verbose   bool
}

// Validate checks the invocation before the tool is started.
func (inv *Invocation) Validate() error {
	if len(inv.Inputs) == 0 {
		return errNoInputs
	}

	for _, input := range inv.Inputs {
		if !filepath.IsAbs(input) {
			return errRelativeInput
		}
	}

	if inv.OutputDir == "" {
		return errNoOutputDir
	}

	if inv.Signing.KeyStore == "" {
		return errNoKeyStore
	}

	if inv.Signing.StorePassword == "" || inv.Signing.Alias == "" || inv.Signing.KeyPassword == "" {
		return errIncompleteCreds
	}

	return nil
}

// Args renders the tool arguments:
// inputs... -o out -l N [-f] [-v] [-m mod] -k keystore storepass alias keypass.
func (inv *Invocation) Args() []string {
	return inv.args(false)
}

func (inv *Invocation) args(mask bool) []string {
	args := make([]string, 0, len(inv.Inputs)+12)
	args = append(args, inv.Inputs...)
	args = append(args, "-o", inv.OutputDir, "-l", strconv.Itoa(inv.LogLevel))

	if inv.Force {
		args = append(args, "-f")
	}

	if inv.Verbose {
		args = append(args, "-v")
	}

	if inv.ModFile != "" {
		args = append(args, "-m", inv.ModFile)
	}

	storePassword, keyPassword := inv.Signing.StorePassword, inv.Signing.KeyPassword
	if mask {
		storePassword, keyPassword = maskedSecret, maskedSecret
	}

	return append(args, "-k", inv.Signing.KeyStore, storePassword, inv.Signing.Alias, keyPassword)
}

// CommandLine renders command plus arguments as a shell-quoted line with the
// passwords masked.
func (inv *Invocation) CommandLine(command []string) string {
	words := append(append([]string(nil), command...), inv.args(true)...)
	quoted := make([]string, 0, len(words))

	for _, word := range words {
		q, err := syntax.Quote(word, syntax.LangBash)
		if err != nil {
			q = strconv.Quote(word)
		}

		quoted = append(quoted, q)
	}

	return strings.Join(quoted, " ")
}
