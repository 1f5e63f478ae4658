package config

import (
	"context"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/engine"
	"github.com/marmos91/exportd/pkg/exports"
	"github.com/marmos91/exportd/pkg/peer"
	"github.com/marmos91/exportd/pkg/probe"
	"github.com/marmos91/exportd/pkg/service"
	"github.com/marmos91/exportd/pkg/state"
	stateBadger "github.com/marmos91/exportd/pkg/state/badger"
	stateMemory "github.com/marmos91/exportd/pkg/state/memory"
	"github.com/marmos91/exportd/pkg/transport"
	transportFile "github.com/marmos91/exportd/pkg/transport/file"
	transportMemory "github.com/marmos91/exportd/pkg/transport/memory"
	transportS3 "github.com/marmos91/exportd/pkg/transport/s3"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// CreateTransport creates the relation transport selected by cfg.Type.
//
// Supported types:
//   - "memory": in-process transport, for tests and single-node setups
//   - "file": YAML documents maintained by an external agent
//   - "s3": a shared bucket (Amazon S3 or compatible storage)
//
// unit is the local unit name, used by transports that key data per unit.
func CreateTransport(ctx context.Context, cfg *TransportConfig, fs afero.Fs, unit string) (transport.Transport, error) {
	switch cfg.Type {
	case "memory":
		return transportMemory.New(), nil
	case "file":
		return createFileTransport(cfg.File, fs)
	case "s3":
		return createS3Transport(ctx, cfg.S3, unit)
	default:
		return nil, fmt.Errorf("unknown transport type: %q (supported: memory, file, s3)", cfg.Type)
	}
}

func createFileTransport(options map[string]any, fs afero.Fs) (transport.Transport, error) {
	var fileCfg transportFile.Config
	if err := mapstructure.Decode(options, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to decode file transport config: %w", err)
	}

	if err := validate.Struct(fileCfg); err != nil {
		return nil, fmt.Errorf("file transport: %w", formatValidationError(err))
	}

	t, err := transportFile.New(fs, fileCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create file transport: %w", err)
	}

	logger.Info("File transport initialized: relations=%s", fileCfg.RelationsPath)
	return t, nil
}

// createS3Transport creates an S3-backed transport.
func createS3Transport(ctx context.Context, options map[string]any, unit string) (transport.Transport, error) {
	type S3TransportConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var s3Cfg S3TransportConfig
	if err := mapstructure.Decode(options, &s3Cfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 transport config: %w", err)
	}

	if s3Cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 transport: bucket is required")
	}
	if s3Cfg.Region == "" {
		return nil, fmt.Errorf("S3 transport: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(s3Cfg.Region))

	// Custom endpoint for MinIO, Localstack, etc.
	if s3Cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(svc, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               s3Cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default credential chain
	if s3Cfg.AccessKeyID != "" && s3Cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			s3Cfg.AccessKeyID,
			s3Cfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := s3Cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack
		if s3Cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Transport
	// ========================================================================

	t, err := transportS3.New(transportS3.Config{
		Client:    client,
		Bucket:    s3Cfg.Bucket,
		KeyPrefix: s3Cfg.KeyPrefix,
		Unit:      unit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 transport: %w", err)
	}

	logger.Info("S3 transport initialized: bucket=%s, region=%s, prefix=%s",
		s3Cfg.Bucket, s3Cfg.Region, s3Cfg.KeyPrefix)

	return t, nil
}

// CreateStateStore creates the state store selected by cfg.Type.
//
// Supported types:
//   - "memory": ephemeral, state is lost on restart
//   - "badger": BadgerDB, persistent
func CreateStateStore(ctx context.Context, cfg *StateConfig) (state.Store, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return stateMemory.New(), nil
	case "badger":
		return createBadgerStateStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown state store type: %q (supported: memory, badger)", cfg.Type)
	}
}

func createBadgerStateStore(ctx context.Context, options map[string]any) (state.Store, error) {
	var storeCfg stateBadger.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger state store config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger state store: db_path is required")
	}

	store, err := stateBadger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger state store: %w", err)
	}

	return store, nil
}

// ServiceResult groups the collaborators that drive the NFS server.
type ServiceResult struct {
	Manager      service.Manager
	Exporter     service.Exporter
	DaemonConfig *service.DaemonConfig
	Renderer     *exports.Renderer
}

// CreateService creates the service manager, exporter, daemon config file
// handle and export table renderer described by cfg.
func CreateService(cfg *ServiceConfig, fs afero.Fs) (*ServiceResult, error) {
	runner := service.ExecRunner{Timeout: cfg.CommandTimeout}

	var manager service.Manager
	switch cfg.Manager {
	case "systemd":
		m, err := service.NewSystemdManager(runner, service.SystemdConfig{
			Unit:           cfg.Name,
			Package:        cfg.Package,
			InstallCommand: cfg.InstallCommand,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create service manager: %w", err)
		}
		manager = m
	default:
		return nil, fmt.Errorf("unknown service manager: %q (supported: systemd)", cfg.Manager)
	}

	var (
		renderer *exports.Renderer
		err      error
	)
	if cfg.ExportsTemplate != "" {
		renderer, err = exports.NewRendererFromFile(fs, cfg.ExportsTemplate)
	} else {
		renderer, err = exports.NewRenderer(fs, "")
	}
	if err != nil {
		return nil, err
	}

	return &ServiceResult{
		Manager:      manager,
		Exporter:     service.NewExportfsExporter(runner, cfg.ReloadCommand),
		DaemonConfig: service.NewDaemonConfig(fs, cfg.DefaultsFile),
		Renderer:     renderer,
	}, nil
}

// CreateVerifier returns the MOUNT probe, or nil when verification is off.
func CreateVerifier(cfg *Config) probe.Verifier {
	if !cfg.Verify.Enabled {
		return nil
	}
	return probe.New(probe.Config{
		Address:     cfg.Verify.Address,
		Timeout:     cfg.Verify.Timeout,
		StorageRoot: cfg.Options.StorageRoot,
	})
}

// LocalNode returns the local unit, detecting its address when none is
// configured.
func LocalNode(cfg *UnitConfig) (peer.Node, error) {
	address := cfg.Address
	if address == "" {
		detected, err := DetectAddress()
		if err != nil {
			return peer.Node{}, fmt.Errorf("unit.address is not set and detection failed: %w", err)
		}
		logger.Info("Detected unit address %s", detected)
		address = detected
	}
	return peer.Node{Name: cfg.Name, Address: address}, nil
}

// DetectAddress returns the first IPv4 address of an interface that is up
// and not a loopback.
func DetectAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}

	return "", fmt.Errorf("no non-loopback IPv4 address found")
}

// EngineOptions converts the options section to the reconciler's options.
func EngineOptions(cfg *Config) engine.Options {
	return engine.Options{
		StorageRoot:   cfg.Options.StorageRoot,
		ExportOptions: cfg.Options.ExportOptions,
		MountOptions:  cfg.Options.MountOptions,
		ActiveUnits:   append([]string(nil), cfg.Options.ActiveUnits...),
		DaemonCount:   cfg.Options.InitialDaemonCount,
	}
}

// NewEngineConfig converts the static sections to the reconciler's config.
func NewEngineConfig(cfg *Config, local peer.Node) engine.Config {
	return engine.Config{
		Local:          local,
		AddressKey:     cfg.Unit.AddressKey,
		ExportsFile:    cfg.Service.ExportsFile,
		ServiceName:    cfg.Service.Name,
		ResyncInterval: cfg.Engine.ResyncInterval,
		RetryInterval:  cfg.Engine.RetryInterval,
		RetryBurst:     cfg.Engine.RetryBurst,
	}
}
