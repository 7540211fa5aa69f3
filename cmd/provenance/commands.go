package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"provenance/go-backend/internal/adapters/rpc"
	"provenance/go-backend/internal/app"
	"provenance/go-backend/internal/bootstrap/provenanceconfig"
	"provenance/go-backend/internal/crypto/signer"
	contentpolicy "provenance/go-backend/internal/domains/content/policy"
	identitytransport "provenance/go-backend/internal/domains/identity/transport"
	"provenance/go-backend/internal/nodeagent"
	"provenance/go-backend/internal/platform/privacylog"
)

const (
	configFlag   = "config"
	endpointFlag = "endpoint"
	timeoutFlag  = "timeout"

	defaultTimeout = 60 * time.Second
)

type cliState struct {
	configPath string
	endpoint   string
	timeout    time.Duration
	out        io.Writer
	errOut     io.Writer
}

func newRootCommand(st *cliState) *cobra.Command {
	root := &cobra.Command{
		Use:           "provenance",
		Short:         "Register delegated signers, publish attested content and verify it",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&st.configPath, configFlag, "", "path to config.yaml (optional)")
	root.PersistentFlags().StringVar(&st.endpoint, endpointFlag, "", "registry node endpoint, URL or multiaddr (overrides config)")
	root.PersistentFlags().DurationVar(&st.timeout, timeoutFlag, defaultTimeout, "overall deadline for registry calls")

	root.AddCommand(
		keygenCommand(st),
		registerRootCommand(st),
		registerIntermediateCommand(st),
		whoisCommand(st),
		publishCommand(st),
		consumeCommand(st),
		childrenCommand(st),
		doctorCommand(st),
	)
	return root
}

func (st *cliState) config() (provenanceconfig.Config, error) {
	cfg, err := provenanceconfig.LoadFromPath(st.configPath)
	if err != nil {
		return provenanceconfig.Config{}, err
	}
	if st.endpoint != "" {
		cfg.Registry.Endpoint = st.endpoint
	}
	return cfg, nil
}

func (st *cliState) logger(cfg provenanceconfig.Config) *slog.Logger {
	return privacylog.New(st.errOut, privacylog.ParseLevel(cfg.LogLevel))
}

func (st *cliState) runtime() (*app.Runtime, error) {
	cfg, err := st.config()
	if err != nil {
		return nil, err
	}
	return app.NewRuntime(cfg, st.logger(cfg))
}

func (st *cliState) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if st.timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), st.timeout)
}

func keygenCommand(st *cliState) *cobra.Command {
	var (
		role       string
		outPath    string
		passphrase string
	)
	c := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a mnemonic-backed wallet, optionally sealed to a key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outPath != "" && passphrase == "" {
				passphrase = os.Getenv("PROVENANCE_KEY_PASSPHRASE")
			}
			if outPath != "" && strings.TrimSpace(passphrase) == "" {
				return fmt.Errorf("%w: --passphrase or PROVENANCE_KEY_PASSPHRASE is required with --out", errInvalidInput)
			}
			report, err := app.GenerateKey(role, outPath, passphrase)
			if err != nil {
				return fmt.Errorf("%w: %w", errInvalidInput, err)
			}
			return printJSON(st.out, report)
		},
	}
	c.Flags().StringVar(&role, "role", signer.RoleIntermediate, "wallet role: root or intermediate")
	c.Flags().StringVar(&outPath, "out", "", "write the key sealed under the passphrase to this file")
	c.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for --out")
	return c
}

func registerRootCommand(st *cliState) *cobra.Command {
	var label string
	c := &cobra.Command{
		Use:   "register-root",
		Short: "Register the configured root wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := st.runtime()
			if err != nil {
				return err
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			reg, err := rt.RegisterRoot(ctx, label)
			if err != nil {
				return err
			}
			return printJSON(st.out, reg)
		},
	}
	c.Flags().StringVar(&label, "label", "", "root label (defaults to a timestamped publisher label)")
	return c
}

func registerIntermediateCommand(st *cliState) *cobra.Command {
	var chainID uint64
	c := &cobra.Command{
		Use:   "register-intermediate",
		Short: "Sign and submit a delegation from the root to the intermediate wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := st.runtime()
			if err != nil {
				return err
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			reg, err := rt.RegisterIntermediate(ctx, chainID)
			if err != nil {
				return err
			}
			return printJSON(st.out, map[string]any{
				"delegation":    identitytransport.DelegationToWire(reg.Delegation),
				"receipt":       reg.Receipt,
				"resolved_root": reg.ResolvedRoot,
				"state":         reg.State,
			})
		},
	}
	c.Flags().Uint64Var(&chainID, "chain-id", 0, "chain id bound into the delegation (defaults to the registry chain)")
	return c
}

func whoisCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "whois [address]",
		Short: "Resolve an address to its root (defaults to the intermediate wallet)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr common.Address
			if len(args) == 1 {
				if !common.IsHexAddress(args[0]) {
					return fmt.Errorf("%w: %q is not an address", errInvalidInput, args[0])
				}
				addr = common.HexToAddress(args[0])
			}
			rt, err := st.runtime()
			if err != nil {
				return err
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			addr, root, err := rt.WhoIs(ctx, addr)
			if err != nil {
				return err
			}
			return printJSON(st.out, map[string]any{
				"address":    addr,
				"root":       root,
				"registered": root != (common.Address{}),
			})
		},
	}
}

func publishCommand(st *cliState) *cobra.Command {
	var (
		filePath  string
		text      string
		randomLen int
		parentHex string
		mime      string
	)
	c := &cobra.Command{
		Use:   "publish",
		Short: "Store a payload, sign its metadata with the intermediate wallet and register the asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := publishPayload(filePath, text, randomLen)
			if err != nil {
				return err
			}
			var parent common.Hash
			if parentHex != "" {
				if parent, err = contentpolicy.ParseHash(parentHex); err != nil {
					return fmt.Errorf("%w: parent: %w", errInvalidInput, err)
				}
			}
			rt, err := st.runtime()
			if err != nil {
				return err
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			asset, err := rt.Publish(ctx, app.PublishInput{Payload: payload, Parent: parent, MimeType: mime})
			if err != nil {
				return err
			}
			return printJSON(st.out, map[string]any{
				"asset_id":      asset.ID,
				"locator":       asset.Locator,
				"uri":           asset.URI,
				"parent":        parent,
				"payload_bytes": len(payload),
			})
		},
	}
	c.Flags().StringVar(&filePath, "file", "", "publish the contents of this file")
	c.Flags().StringVar(&text, "text", "", "publish this text")
	c.Flags().IntVar(&randomLen, "random", 10, "publish a random alphanumeric string of this length when no file or text is given")
	c.Flags().StringVar(&parentHex, "parent", "", "parent node id (defaults to the graph root)")
	c.Flags().StringVar(&mime, "mime", "", "payload media type (detected when empty)")
	c.MarkFlagsMutuallyExclusive("file", "text")
	return c
}

func publishPayload(filePath, text string, randomLen int) ([]byte, error) {
	switch {
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidInput, err)
		}
		return data, nil
	case text != "":
		return []byte(text), nil
	default:
		data, err := app.RandomPayload(randomLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidInput, err)
		}
		return data, nil
	}
}

func consumeCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "consume <asset-id>",
		Short: "Fetch an asset and verify its binding, integrity and delegation chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := contentpolicy.ParseHash(args[0])
			if err != nil {
				return fmt.Errorf("%w: asset id: %w", errInvalidInput, err)
			}
			rt, err := st.runtime()
			if err != nil {
				return err
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			result, verifyErr := rt.Consume(ctx, assetID)
			if result.AssetID == (common.Hash{}) {
				return verifyErr
			}
			if err := printJSON(st.out, result); err != nil {
				return err
			}
			return verifyErr
		},
	}
}

func childrenCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "children [parent-id]",
		Short: "List the nodes published under a parent (defaults to the graph root)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parent common.Hash
			if len(args) == 1 {
				var err error
				if parent, err = contentpolicy.ParseHash(args[0]); err != nil {
					return fmt.Errorf("%w: parent id: %w", errInvalidInput, err)
				}
			}
			rt, err := st.runtime()
			if err != nil {
				return err
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			children, err := rt.Children(ctx, parent)
			if err != nil {
				return err
			}
			if children == nil {
				children = []common.Hash{}
			}
			return printJSON(st.out, map[string]any{
				"parent":   parent,
				"children": children,
			})
		},
	}
}

func doctorCommand(st *cliState) *cobra.Command {
	var (
		checkListen bool
		offline     bool
	)
	c := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, wallets and registry readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := provenanceconfig.LoadFromPath(st.configPath)
			if err != nil {
				return err
			}
			if st.endpoint != "" {
				cfg.Registry.Endpoint = st.endpoint
			}
			var registry nodeagent.RegistryReader
			if !offline {
				client, err := rpc.NewClient(cfg.Registry.Endpoint, rpc.ClientOptions{
					Token:       cfg.Registry.Token,
					ReadRetries: -1,
					Logger:      st.logger(cfg),
				})
				if err == nil {
					registry = client
				}
			}
			ctx, cancel := st.context(cmd)
			defer cancel()
			report, err := nodeagent.New(registry).Doctor(ctx, nodeagent.DoctorInput{Config: cfg, CheckListen: checkListen})
			if err != nil {
				return err
			}
			if err := printJSON(st.out, report); err != nil {
				return err
			}
			if !report.Ready {
				return errNotReady
			}
			return nil
		},
	}
	c.Flags().BoolVar(&checkListen, "check-listen", false, "also check that the registry listen port is free")
	c.Flags().BoolVar(&offline, "offline", false, "skip the registry checks")
	return c
}
