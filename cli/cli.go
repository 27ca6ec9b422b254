package cli

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	consul "github.com/hashicorp/consul/api"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/cluster/mesh"
	"github.com/vx-labs/cluster-sharding/events"
	"github.com/vx-labs/cluster-sharding/network"
	"go.uber.org/zap"
)

const (
	FLAG_NAME_CLUSTER = "cluster"
)

var version = "dev"

func Version() string {
	return version
}

// Service is the workload a node runs next to its cluster membership.
type Service interface {
	Run(ctx context.Context) error
	// Shutdown hands the service work over to other nodes, before this node
	// leaves the cluster.
	Shutdown(ctx context.Context)
	Health() string
}

func AddClusterFlags(root *cobra.Command, v *viper.Viper) {
	root.Flags().StringSliceP("join", "j", []string{}, "Join this node")
	v.BindPFlag("join", root.Flags().Lookup("join"))
	root.Flags().String("consul-service", "", "Discover seed nodes from this Consul service")
	v.BindPFlag("consul-service", root.Flags().Lookup("consul-service"))
	root.Flags().String("system-name", "cluster", "Actor system name, shared by every member")
	v.BindPFlag("system-name", root.Flags().Lookup("system-name"))
	root.Flags().StringSlice("roles", []string{}, "Roles of this node")
	v.BindPFlag("roles", root.Flags().Lookup("roles"))
	root.Flags().Duration("gossip-interval", time.Second, "Delay between two gossip rounds")
	v.BindPFlag("gossip-interval", root.Flags().Lookup("gossip-interval"))
	root.Flags().Duration("leader-actions-interval", time.Second, "Delay between two leader actions rounds")
	v.BindPFlag("leader-actions-interval", root.Flags().Lookup("leader-actions-interval"))
	root.Flags().Duration("auto-down-unreachable-after", 0, "Mark unreachable members Down after this delay (0 disables auto-down)")
	v.BindPFlag("auto-down-unreachable-after", root.Flags().Lookup("auto-down-unreachable-after"))
	root.Flags().Duration("join-retry-interval", 5*time.Second, "Delay between two join attempts")
	v.BindPFlag("join-retry-interval", root.Flags().Lookup("join-retry-interval"))
	root.Flags().Int("health-port", 9000, "Serve /health and /metrics on this port")
	v.BindPFlag("health-port", root.Flags().Lookup("health-port"))
	root.Flags().BoolP("pprof", "", false, "Enable pprof endpoint")
	v.BindPFlag("pprof", root.Flags().Lookup("pprof"))
	network.RegisterFlagsForService(root, v, FLAG_NAME_CLUSTER, 3500)
}

// MeshConfig builds the cluster configuration from the flags registered by
// AddClusterFlags.
func MeshConfig(v *viper.Viper, netConf network.Configuration) mesh.Config {
	config := mesh.DefaultConfig(v.GetString("system-name"))
	config.BindAddr = netConf.BindAddress
	config.BindPort = netConf.BindPort
	config.AdvertiseAddr = netConf.AdvertisedAddress
	config.AdvertisePort = netConf.AdvertisedPort
	config.Roles = v.GetStringSlice("roles")
	config.Seeds = v.GetStringSlice("join")
	if d := v.GetDuration("gossip-interval"); d > 0 {
		config.GossipInterval = d
	}
	if d := v.GetDuration("leader-actions-interval"); d > 0 {
		config.LeaderActionsInterval = d
	}
	if d := v.GetDuration("join-retry-interval"); d > 0 {
		config.JoinRetryInterval = d
	}
	config.AutoDownUnreachableAfter = v.GetDuration("auto-down-unreachable-after")
	return config
}

// JoinConsulPeers feeds the healthy instances of service to the node until
// it joined the cluster.
func JoinConsulPeers(ctx context.Context, api *consul.Client, service string, self network.Configuration, node *mesh.Node, logger *zap.Logger) error {
	var index uint64
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for !node.Joined() {
		services, meta, err := api.Health().Service(
			service,
			"",
			false,
			(&consul.QueryOptions{
				WaitIndex: index,
				WaitTime:  15 * time.Second,
			}).WithContext(ctx),
		)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			continue
		}
		index = meta.LastIndex
		peers := []string{}
		for _, service := range services {
			logger.Info("discovered node", zap.String("node_address", service.Service.Address), zap.Int("node_port", service.Service.Port), zap.String("node_health", service.Checks.AggregatedStatus()))
			if service.Checks.AggregatedStatus() == consul.HealthCritical {
				continue
			}
			if service.Service.Address == self.AdvertisedAddress && service.Service.Port == self.AdvertisedPort {
				continue
			}
			peers = append(peers, fmt.Sprintf("%s:%d", service.Service.Address, service.Service.Port))
		}
		if len(peers) > 0 {
			node.Join(peers)
		}
	}
	return nil
}

type Context struct {
	Logger      *zap.Logger
	Config      *viper.Viper
	MeshNetConf network.Configuration
	System      *actor.System
	Bus         *events.Bus
	Mesh        *mesh.Node
}

func Bootstrap(cmd *cobra.Command, v *viper.Viper) (*Context, error) {
	netConf, err := network.ConfigurationFromFlags(v, FLAG_NAME_CLUSTER)
	if err != nil {
		return nil, err
	}
	config := MeshConfig(v, netConf)
	address := config.Address()
	fields := []zap.Field{
		zap.String("node_id", address.String()), zap.String("version", Version()),
	}
	if allocID := os.Getenv("NOMAD_ALLOC_ID"); allocID != "" {
		fields = append(fields,
			zap.String("nomad_alloc_id", os.Getenv("NOMAD_ALLOC_ID")),
			zap.String("nomad_alloc_name", os.Getenv("NOMAD_ALLOC_NAME")),
			zap.String("nomad_alloc_index", os.Getenv("NOMAD_ALLOC_INDEX")),
		)
	}
	logger, err := NewLogger(fields...)
	if err != nil {
		return nil, err
	}
	if v.GetBool("pprof") {
		go func() {
			fmt.Println("pprof endpoint is running on port 8080")
			http.ListenAndServe(":8080", nil)
		}()
	}
	system := actor.NewSystem(address, logger.With(zap.String("component", "actor")))
	bus := events.NewBus()
	node, err := mesh.New(config, system, bus, logger)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Use the following address to join the cluster: %s\n", netConf.HostPort())
	return &Context{
		Logger:      logger,
		Config:      v,
		MeshNetConf: netConf,
		System:      system,
		Bus:         bus,
		Mesh:        node,
	}, nil
}

// NewLogger creates the root logger. ENABLE_PRETTY_LOG=true switches to
// the development encoder.
func NewLogger(fields ...zap.Field) (*zap.Logger, error) {
	opts := []zap.Option{
		zap.Fields(fields...),
	}
	if os.Getenv("ENABLE_PRETTY_LOG") == "true" {
		return zap.NewDevelopment(opts...)
	}
	return zap.NewProduction(opts...)
}

// Run runs the cluster membership and service until a termination signal
// is received. The service is then shut down, and the node leaves the
// cluster before exiting.
func (ctx *Context) Run(service Service) error {
	logger := ctx.Logger
	defer logger.Sync()
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meshDone := make(chan error, 1)
	go func() {
		meshDone <- ctx.Mesh.Run(runCtx)
	}()
	if name := ctx.Config.GetString("consul-service"); name != "" {
		consulConfig := consul.DefaultConfig()
		consulConfig.HttpClient = http.DefaultClient
		consulAPI, err := consul.NewClient(consulConfig)
		if err != nil {
			return err
		}
		go func() {
			if err := JoinConsulPeers(runCtx, consulAPI, name, ctx.MeshNetConf, ctx.Mesh, logger); err != nil {
				logger.Warn("consul discovery stopped", zap.Error(err))
			}
		}()
	}
	go serveHTTPHealth(logger, ctx.Config.GetInt("health-port"), ctx.Mesh, service)

	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- service.Run(runCtx)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	select {
	case <-sigc:
		logger.Info("received termination signal")
	case <-ctx.Mesh.Removed():
		logger.Warn("node was removed from the cluster")
	case err := <-serviceDone:
		if err != nil {
			logger.Error("service stopped", zap.Error(err))
		}
		return err
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	service.Shutdown(shutdownCtx)
	logger.Info("service stopped")
	ctx.Mesh.Leave(ctx.Mesh.Self().Address)
	select {
	case <-ctx.Mesh.Removed():
		logger.Info("cluster left")
	case <-shutdownCtx.Done():
		logger.Warn("timed out while leaving the cluster")
	}
	cancel()
	<-meshDone
	return nil
}

type healthChecker interface {
	Health() string
}

func healthHandler(checkers ...healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for _, checker := range checkers {
			switch checker.Health() {
			case "warning":
				w.WriteHeader(http.StatusTooManyRequests)
				return
			case "critical":
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func serveHTTPHealth(logger *zap.Logger, port int, checkers ...healthChecker) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler(checkers...))
	err := http.ListenAndServe(fmt.Sprintf("[::]:%d", port), mux)
	if err != nil {
		logger.Error("failed to run healthcheck endpoint", zap.Error(err))
	}
}
