package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/amibake/amibake/internal/bake"
)

// set by the goreleaser configuration.
var version string = "dev"

var (
	configPath string
	cfg        bake.Config
)

var rootCmd = &cobra.Command{
	Use:           "amibake",
	Short:         "Build AMIs by provisioning an EC2 instance with chef-solo",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var bakeCmd = &cobra.Command{
	Use:   "bake",
	Short: "Launch, provision, snapshot and terminate a build instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Flag values take precedence over the config file; merge the file
		// first, then overlay any flag the caller actually set.
		if configPath != "" {
			fileCfg, err := bake.LoadFile(configPath)
			if err != nil {
				return err
			}
			overlayFlags(cmd, &fileCfg)
			cfg = fileCfg
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		log := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		ctx := clog.WithLogger(cmd.Context(), log)

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS configuration: %w", err)
		}

		baker := bake.New(cfg, ec2.NewFromConfig(awsCfg))
		amiID, err := baker.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Println(amiID)
		return nil
	},
}

// overlayFlags copies every flag the user explicitly set on the command line
// over the file-sourced configuration.
func overlayFlags(cmd *cobra.Command, dst *bake.Config) {
	flagCfg := cfg
	flags := cmd.Flags()
	if flags.Changed("name") {
		dst.Name = flagCfg.Name
	}
	if flags.Changed("instance-type") {
		dst.InstanceType = flagCfg.InstanceType
	}
	if flags.Changed("subnet-id") {
		dst.SubnetID = flagCfg.SubnetID
	}
	if flags.Changed("security-group-id") {
		dst.SecurityGroupID = flagCfg.SecurityGroupID
	}
	if flags.Changed("source-ami") {
		dst.SourceAMI = flagCfg.SourceAMI
	}
	if flags.Changed("region") {
		dst.Region = flagCfg.Region
	}
	if flags.Changed("root-volume-size") {
		dst.RootVolumeSize = flagCfg.RootVolumeSize
	}
	if flags.Changed("key-name") {
		dst.KeyName = flagCfg.KeyName
	}
	if flags.Changed("key-path") {
		dst.KeyPath = flagCfg.KeyPath
	}
	if flags.Changed("ssh-user") {
		dst.SSHUser = flagCfg.SSHUser
	}
	if flags.Changed("chef-url") {
		dst.ChefURL = flagCfg.ChefURL
	}
	if flags.Changed("chef-branch") {
		dst.ChefBranch = flagCfg.ChefBranch
	}
	if flags.Changed("chef-role") {
		dst.ChefRole = flagCfg.ChefRole
	}
	if flags.Changed("chef-environment") {
		dst.ChefEnvironment = flagCfg.ChefEnvironment
	}
	if flags.Changed("acceptance-test") {
		dst.AcceptanceTest = flagCfg.AcceptanceTest
	}
	if flags.Changed("image-version") {
		dst.Version = flagCfg.Version
	}
	if flags.Changed("no-reboot") {
		dst.NoReboot = flagCfg.NoReboot
	}
	if flags.Changed("terminate") {
		dst.Terminate = flagCfg.Terminate
	}
	if flags.Changed("debug") {
		dst.Debug = flagCfg.Debug
	}
}

func init() {
	flags := bakeCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a YAML build configuration file")
	flags.StringVar(&cfg.Name, "name", "", "Human-readable build name (default \"amibake\")")
	flags.StringVar(&cfg.InstanceType, "instance-type", "", "EC2 instance type (default \"t3.medium\")")
	flags.StringVar(&cfg.SubnetID, "subnet-id", "", "Subnet to launch the build instance into")
	flags.StringVar(&cfg.SecurityGroupID, "security-group-id", "", "Security group for the build instance")
	flags.StringVar(&cfg.SourceAMI, "source-ami", "", "Base AMI to launch from")
	flags.StringVar(&cfg.Region, "region", "", "AWS region (default \"us-west-2\")")
	flags.Int32Var(&cfg.RootVolumeSize, "root-volume-size", 0, "Root volume size in GB (0 keeps the image default)")
	flags.StringVar(&cfg.KeyName, "key-name", "", "AWS key pair name")
	flags.StringVar(&cfg.KeyPath, "key-path", "", "Path to the key pair's private key")
	flags.StringVar(&cfg.SSHUser, "ssh-user", "", "SSH user on the instance (default \"ubuntu\")")
	flags.StringVar(&cfg.ChefURL, "chef-url", "", "Git URL of the cookbook repository")
	flags.StringVar(&cfg.ChefBranch, "chef-branch", "", "Branch of the cookbook repository (default \"master\")")
	flags.StringVar(&cfg.ChefRole, "chef-role", "", "Chef role applied by the convergence run")
	flags.StringVar(&cfg.ChefEnvironment, "chef-environment", "", "Chef environment for the convergence run")
	flags.StringVar(&cfg.AcceptanceTest, "acceptance-test", "", "Path to an acceptance test script run on the instance")
	flags.StringVar(&cfg.Version, "image-version", "", "Version tag baked into the AMI name (default: UTC timestamp)")
	flags.BoolVar(&cfg.NoReboot, "no-reboot", false, "Snapshot without rebooting the instance")
	flags.BoolVar(&cfg.Terminate, "terminate", true, "Terminate the build instance during cleanup")
	flags.BoolVar(&cfg.Debug, "debug", false, "Enable verbose logging")

	rootCmd.AddCommand(bakeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
