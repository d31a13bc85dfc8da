// Package provision drives the per-identity certificate protocol against
// the remote CA service: generate a key and CSR for each requested name,
// submit the CSR, retrieve the signed certificate, save it locally, and
// aggregate the per-identity outcomes into one process result.
package provision

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awheeler/certmint/inventory"
	"github.com/awheeler/certmint/pki"
	"github.com/awheeler/certmint/settings"
	"github.com/awheeler/certmint/transport"
	"github.com/awheeler/certmint/truststore"
)

// ErrValidation is returned for bad identity input, before any network
// activity takes place.
var ErrValidation = errors.New("invalid certificate request")

// Outcome is the terminal state of one identity's provisioning attempt.
type Outcome string

const (
	OutcomeSaved    Outcome = "saved"
	OutcomeNotFound Outcome = "not-found"
	OutcomeError    Outcome = "error"
)

// Result is one identity's outcome with its user-facing message.
type Result struct {
	Name    string
	Outcome Outcome
	Message string
}

// Report aggregates every identity's result. Mixed batches report every
// success alongside every failure.
type Report struct {
	Results []Result
}

// Failed reports whether any identity ended in a non-saved outcome.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeSaved {
			return true
		}
	}
	return false
}

// ExitCode is 0 only when every identity's certificate was saved.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// Config wires a Workflow.
type Config struct {
	Settings settings.Settings

	// AltNames is the command-line SAN override; it takes precedence over
	// the settings-file value per pki.ChooseAltNames.
	AltNames string

	// Logger receives leveled progress messages. Defaults to a discard
	// logger when nil.
	Logger *slog.Logger

	// Inventory, when non-nil, records every saved certificate.
	Inventory *inventory.Store
}

// Workflow obtains signed certificates for a batch of identity names over
// one mutual-TLS connection.
type Workflow struct {
	settings settings.Settings
	altNames string
	log      *slog.Logger
	inv      *inventory.Store
}

// New builds a Workflow from cfg, applying settings defaults.
func New(cfg Config) *Workflow {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Workflow{
		settings: cfg.Settings.WithDefaults(),
		altNames: cfg.AltNames,
		log:      log,
		inv:      cfg.Inventory,
	}
}

// ValidateNames checks the identity batch: it must be non-empty, names must
// not look like flags, and names must be entirely lower case.
func ValidateNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one certname is required", ErrValidation)
	}
	for _, name := range names {
		if strings.HasPrefix(name, "-") {
			return fmt.Errorf("%w: %q looks like a flag, not a certname", ErrValidation, name)
		}
		if name != strings.ToLower(name) {
			return fmt.Errorf("%w: certname %q must be entirely lower case", ErrValidation, name)
		}
	}
	return nil
}

// Run provisions every name in the batch. Validation, trust-store and
// connection problems abort the whole invocation; per-identity failures are
// recorded in the report and never abort the batch. Crypto failures abort
// immediately, matching the no-partial-batch contract.
func (w *Workflow) Run(ctx context.Context, names []string) (*Report, error) {
	if err := ValidateNames(names); err != nil {
		return nil, err
	}

	mode, err := truststore.ParseRevocationMode(w.settings.CertificateRevocation)
	if err != nil {
		return nil, err
	}
	store, err := truststore.Build(w.settings.LocalCACert, mode, w.settings.HostCRL)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Connect(ctx, w.settings.BaseURL(),
		w.settings.HostCert, w.settings.HostPrivKey, store,
		transport.Options{Timeout: w.settings.Timeout})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	report := &Report{}
	for _, name := range names {
		result, err := w.provisionOne(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, result)
		if result.Outcome == OutcomeSaved {
			w.log.Info("saved certificate", "certname", name)
		} else {
			w.log.Error("provisioning failed", "certname", name, "outcome", string(result.Outcome))
		}
	}
	return report, nil
}

// provisionOne runs the submit/retrieve protocol for one identity. The
// returned error is reserved for failures that abort the batch (key
// generation, CSR construction); everything else becomes the identity's
// terminal outcome.
func (w *Workflow) provisionOne(ctx context.Context, conn *transport.Connection, name string) (Result, error) {
	key, err := pki.GenerateKey(w.settings.KeyLength)
	if err != nil {
		return Result{}, err
	}
	altNames := pki.ChooseAltNames(w.altNames, w.settings.DNSAltNames)
	csr, err := pki.NewCSR(name, key, altNames)
	if err != nil {
		return Result{}, err
	}

	submit, err := conn.Put(ctx, "certificate_request/"+name, pki.EncodeCSRPEM(csr), nil)
	if err != nil {
		return errorResult(name, fmt.Sprintf("submitting certificate request for %s failed: %v", name, err)), nil
	}
	if submit.StatusCode/100 != 2 {
		return errorResult(name, fmt.Sprintf("submitting certificate request for %s failed (code: %d, body: %s)",
			name, submit.StatusCode, submit.Body)), nil
	}

	retrieve, err := conn.Get(ctx, "certificate/"+name, nil)
	if err != nil {
		return errorResult(name, fmt.Sprintf("retrieving certificate for %s failed: %v", name, err)), nil
	}
	switch {
	case retrieve.StatusCode == 200 && len(retrieve.Body) > 0:
		if err := w.save(name, key, retrieve.Body); err != nil {
			return errorResult(name, fmt.Sprintf("saving certificate for %s failed: %v", name, err)), nil
		}
		return Result{
			Name:    name,
			Outcome: OutcomeSaved,
			Message: fmt.Sprintf("Successfully saved certificate for %s", name),
		}, nil
	case retrieve.StatusCode == 404:
		return Result{
			Name:    name,
			Outcome: OutcomeNotFound,
			Message: fmt.Sprintf("the certificate for %s could not be found", name),
		}, nil
	default:
		return errorResult(name, fmt.Sprintf("retrieving certificate for %s failed (code: %d, body: %s)",
			name, retrieve.StatusCode, retrieve.Body)), nil
	}
}

func errorResult(name, message string) Result {
	return Result{Name: name, Outcome: OutcomeError, Message: message}
}

// save writes the identity's private key and the retrieved certificate to
// their configured directories and records the save in the inventory.
func (w *Workflow) save(name string, key *rsa.PrivateKey, certPEM []byte) error {
	cert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return fmt.Errorf("CA returned an unparseable certificate: %w", err)
	}

	if err := os.MkdirAll(w.settings.PrivateKeyDir, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(w.settings.CertDir, 0o755); err != nil {
		return err
	}
	keyPath := filepath.Join(w.settings.PrivateKeyDir, name+".pem")
	if err := os.WriteFile(keyPath, pki.EncodePrivateKeyPEM(key), 0o600); err != nil {
		return err
	}
	certPath := filepath.Join(w.settings.CertDir, name+".pem")
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}

	if w.inv != nil {
		fingerprint := sha256.Sum256(cert.Raw)
		rec := inventory.Record{
			ID:                uuid.NewString(),
			Name:              name,
			SerialNumber:      hex.EncodeToString(cert.SerialNumber.Bytes()),
			FingerprintSHA256: hex.EncodeToString(fingerprint[:]),
			NotBefore:         cert.NotBefore,
			NotAfter:          cert.NotAfter,
			SavedAt:           time.Now().UTC(),
		}
		if err := w.inv.PutCertificate(rec); err != nil {
			// The certificate is already on disk; a bookkeeping failure
			// should not turn the save into a failed outcome.
			w.log.Error("recording certificate in inventory failed", "certname", name, "error", err)
		}
	}
	return nil
}
