// Package nodeagent runs operator readiness checks against the local
// configuration, the wallets and the registry node.
package nodeagent

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"provenance/go-backend/internal/adapters/rpc"
	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/crypto/signer"
	"provenance/go-backend/pkg/models"
)

const defaultCheckTimeout = 5 * time.Second

// RegistryReader is the registry surface the doctor reads.
type RegistryReader interface {
	Health(ctx context.Context) error
	DomainMetadata(ctx context.Context) (models.DomainMetadata, error)
	WhoIs(ctx context.Context, addr common.Address) (common.Address, error)
}

type DoctorInput struct {
	Config provenanceconfig.Config
	// CheckListen also verifies the configured listen port is free, which
	// only makes sense before starting a local registry node.
	CheckListen bool
}

type DoctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type DoctorReport struct {
	Ready        bool           `json:"ready"`
	Checks       []DoctorCheck  `json:"checks"`
	Root         common.Address `json:"root"`
	Intermediate common.Address `json:"intermediate"`
	CheckedAt    time.Time      `json:"checked_at"`
}

type Service struct {
	registry RegistryReader
	timeout  time.Duration
	now      func() time.Time
}

// New returns a doctor reading from registry. A nil registry skips the
// registry checks.
func New(registry RegistryReader) *Service {
	return &Service{
		registry: registry,
		timeout:  defaultCheckTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Doctor(ctx context.Context, input DoctorInput) (DoctorReport, error) {
	cfg := input.Config
	report := DoctorReport{
		Ready:     true,
		Checks:    make([]DoctorCheck, 0, 10),
		CheckedAt: s.now(),
	}
	appendCheck := func(name string, err error) bool {
		check := DoctorCheck{Name: name, Pass: err == nil}
		if err != nil {
			check.Reason = err.Error()
			report.Ready = false
		}
		report.Checks = append(report.Checks, check)
		return err == nil
	}

	appendCheck("config_valid", cfg.Validate())

	listenAddr, err := rpc.ParseListenAddr(cfg.Registry.Listen)
	if appendCheck("listen_addr_valid", err) && input.CheckListen {
		appendCheck("listen_port_available", checkPortAvailable(listenAddr))
	}
	_, err = rpc.ResolveEndpoint(cfg.Registry.Endpoint)
	appendCheck("endpoint_valid", err)

	rootKey, err := signer.LoadKey(cfg.Keys.Root.Source(signer.RoleRoot))
	if appendCheck("root_key_loaded", err) {
		report.Root = mustAddress(rootKey)
	}
	interKey, err := signer.LoadKey(cfg.Keys.Intermediate.Source(signer.RoleIntermediate))
	if appendCheck("intermediate_key_loaded", err) {
		report.Intermediate = mustAddress(interKey)
	}

	if s.registry == nil {
		return report, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if !appendCheck("registry_reachable", s.registry.Health(ctx)) {
		return report, nil
	}
	appendCheck("domain_matches", s.checkDomain(ctx, cfg.Domain()))
	if report.Root != (common.Address{}) {
		appendCheck("root_registered", s.checkResolves(ctx, report.Root, report.Root))
		if report.Intermediate != (common.Address{}) {
			appendCheck("intermediate_delegated", s.checkResolves(ctx, report.Intermediate, report.Root))
		}
	}
	return report, nil
}

func (s *Service) checkDomain(ctx context.Context, want models.DomainMetadata) error {
	got, err := s.registry.DomainMetadata(ctx)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("registry serves %s/%s chain %d at %s, config expects %s/%s chain %d at %s",
			got.Name, got.Version, got.ChainID, got.VerifyingContract.Hex(),
			want.Name, want.Version, want.ChainID, want.VerifyingContract.Hex())
	}
	return nil
}

func (s *Service) checkResolves(ctx context.Context, addr, want common.Address) error {
	got, err := s.registry.WhoIs(ctx, addr)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s resolves to %s, expected %s", addr.Hex(), got.Hex(), want.Hex())
	}
	return nil
}

func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}

func mustAddress(key *ecdsa.PrivateKey) common.Address {
	addr, err := signer.Address(key)
	if err != nil {
		return common.Address{}
	}
	return addr
}
