package network

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestConfigurationFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	RegisterFlagsForService(cmd, v, "cluster", 3500)
	require.NoError(t, cmd.Flags().Parse([]string{
		"--cluster-bind-address", "0.0.0.0",
		"--cluster-advertised-address", "192.0.2.10",
	}))

	config, err := ConfigurationFromFlags(v, "cluster")
	require.NoError(t, err)
	require.Equal(t, Configuration{
		Name:              "cluster",
		BindAddress:       "0.0.0.0",
		BindPort:          3500,
		AdvertisedAddress: "192.0.2.10",
		AdvertisedPort:    3500,
	}, config)
	require.Equal(t, "192.0.2.10:3500", config.HostPort())
}

func TestConfigurationFromFlags_Invalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
	}{
		{name: "address", args: []string{"--cluster-advertised-address", "not-an-ip"}},
		{name: "privileged port", args: []string{"--cluster-bind-port", "80"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			v := viper.New()
			RegisterFlagsForService(cmd, v, "cluster", 3500)
			require.NoError(t, cmd.Flags().Parse(tt.args))
			_, err := ConfigurationFromFlags(v, "cluster")
			require.Equal(t, ErrInvalidConfiguration, errors.Cause(err))
		})
	}
}

func TestConfigurationFromFlags_RandomPort(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	RegisterFlagsForService(cmd, v, "health", 0)
	require.NoError(t, cmd.Flags().Parse([]string{"--health-bind-address", "127.0.0.1"}))
	config, err := ConfigurationFromFlags(v, "health")
	require.NoError(t, err)
	require.NotZero(t, config.BindPort)
	require.Equal(t, config.BindPort, config.AdvertisedPort)
}
