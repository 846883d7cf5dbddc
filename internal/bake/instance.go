package bake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
)

var (
	ErrLaunchNoInstance = fmt.Errorf("encountered no error during instance " +
		"launch, but no instance was actually created")
	ErrLaunchNoID = fmt.Errorf("encountered no error during instance " +
		"launch, but the returned instance id was empty")
	ErrLaunchNoAddress = fmt.Errorf("encountered no error during instance " +
		"launch, but the returned private address was empty")
)

// Launch retry bounds. Vars rather than consts so tests can collapse the
// backoff.
var (
	launchAttempts       = 10
	launchBackoffInitial = 2 * time.Second
	launchBackoffMax     = 30 * time.Second
)

// launchRetryable reports whether a RunInstances error code is a known
// eventual-consistency artifact: resources created moments before the launch
// (subnet, security group, key pair) can briefly report as missing.
func launchRetryable(code string) bool {
	switch code {
	case "InvalidSubnetID.NotFound", "InvalidGroup.NotFound", "InvalidKeyPair.NotFound":
		return true
	}
	return false
}

// launch requests a new instance from the configured base AMI and captures
// its id and private address. The terminate destructor is queued immediately
// after a successful launch.
func (b *Baker) launch(ctx context.Context) error {
	log := clog.FromContext(ctx)

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(b.cfg.SourceAMI),
		InstanceType: types.InstanceType(b.cfg.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		KeyName:      aws.String(b.cfg.KeyName),
		NetworkInterfaces: []types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex: aws.Int32(0),
			SubnetId:    aws.String(b.cfg.SubnetID),
			Groups:      []string{b.cfg.SecurityGroupID},
		}},
	}
	if b.cfg.RootVolumeSize > 0 {
		input.BlockDeviceMappings = []types.BlockDeviceMapping{{
			DeviceName: aws.String("/dev/sda1"),
			Ebs: &types.EbsBlockDevice{
				VolumeSize:          aws.Int32(b.cfg.RootVolumeSize),
				VolumeType:          types.VolumeTypeGp3,
				DeleteOnTermination: aws.Bool(true),
			},
		}}
	}

	// Retry RunInstances to handle EC2's eventual consistency: referenced
	// resources created just before the launch may not be visible yet.
	var result *ec2.RunInstancesOutput
	backoff := launchBackoffInitial
	for attempt := 1; ; attempt++ {
		var err error
		result, err = b.api.RunInstances(ctx, input)
		if err == nil {
			break
		}
		var apiErr smithy.APIError
		if attempt < launchAttempts && errors.As(err, &apiErr) && launchRetryable(apiErr.ErrorCode()) {
			log.Debug("launch hit a not-yet-visible resource, retrying",
				"attempt", attempt,
				"code", apiErr.ErrorCode(),
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = min(backoff*2, launchBackoffMax)
				continue
			}
		}
		return fmt.Errorf("failed to launch instance: %w", err)
	}
	if len(result.Instances) == 0 {
		return ErrLaunchNoInstance
	}
	inst := result.Instances[0]
	if inst.InstanceId == nil || *inst.InstanceId == "" {
		return ErrLaunchNoID
	}
	if inst.PrivateIpAddress == nil || *inst.PrivateIpAddress == "" {
		return ErrLaunchNoAddress
	}
	b.instanceID = *inst.InstanceId
	b.instanceIP = *inst.PrivateIpAddress
	log.Info("instance launched", "instance_id", b.instanceID, "private_ip", b.instanceIP)

	// Queue the instance destructor. Termination honors the terminate flag;
	// the flag is consulted at destroy time so cleanup itself stays
	// unconditional.
	b.stack.Push(func(ctx context.Context) error {
		log := clog.FromContext(ctx)
		if !b.cfg.Terminate {
			log.Info("terminate disabled, leaving instance running", "instance_id", b.instanceID)
			return nil
		}
		log.Info("terminating instance", "instance_id", b.instanceID)
		if _, err := b.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{b.instanceID},
		}); err != nil {
			return fmt.Errorf("failed to terminate instance %s: %w", b.instanceID, err)
		}
		return nil
	})

	b.tag(ctx, b.instanceID)
	return nil
}

// tag applies the build's tags to 'resourceID'. Best-effort: a failed tag
// call is logged and never fails the build.
func (b *Baker) tag(ctx context.Context, resourceID string) {
	log := clog.FromContext(ctx)
	_, err := b.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      buildTags(b.cfg.ImageName(), b.cfg.Version),
	})
	if err == nil {
		log.Debug("resource tagged", "resource_id", resourceID)
		return
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		log.Warn("failed to tag resource",
			"resource_id", resourceID,
			"code", apiErr.ErrorCode(),
			"message", apiErr.ErrorMessage(),
		)
		return
	}
	log.Warn("failed to tag resource", "resource_id", resourceID, "error", err)
}
