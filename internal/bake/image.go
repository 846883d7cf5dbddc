package bake

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

var (
	ErrImageNoID = fmt.Errorf("encountered no error during image creation, " +
		"but the returned image id was empty")
	ErrImageNotFound = fmt.Errorf("image disappeared while polling its state")
	ErrImageState    = fmt.Errorf("image entered an unrecognized state")
)

// snapshotImage requests an AMI snapshot of the provisioned instance and
// blocks until the image reaches a terminal state.
func (b *Baker) snapshotImage(ctx context.Context) error {
	log := clog.FromContext(ctx)

	name := b.cfg.ImageName()
	log.Info("creating image", "name", name, "instance_id", b.instanceID)
	result, err := b.api.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(b.instanceID),
		Name:        aws.String(name),
		Description: aws.String(fmt.Sprintf("amibake build of %s from %s", name, b.cfg.SourceAMI)),
		NoReboot:    aws.Bool(b.cfg.NoReboot),
	})
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	if result.ImageId == nil || *result.ImageId == "" {
		return ErrImageNoID
	}
	b.imageID = *result.ImageId
	log.Info("image creation requested", "image_id", b.imageID)

	b.tag(ctx, b.imageID)

	return b.awaitImage(ctx)
}

// awaitImage polls the image state at a fixed interval until it reaches
// 'available'.
//
// Exactly one transient state is recognized: 'pending'. Every other state
// is treated as fatal and unrecoverable. This is a deliberate fail-fast
// guard against unknown provider states, not a recoverable condition.
func (b *Baker) awaitImage(ctx context.Context) error {
	log := clog.FromContext(ctx).With("image_id", b.imageID)
	return poll(ctx, b.cfg.ImagePollInterval, 0, func(ctx context.Context) (bool, error) {
		result, err := b.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
			ImageIds: []string{b.imageID},
		})
		if err != nil {
			return false, fmt.Errorf("failed to describe image %s: %w", b.imageID, err)
		}
		if len(result.Images) == 0 {
			return false, ErrImageNotFound
		}
		switch state := result.Images[0].State; state {
		case types.ImageStateAvailable:
			log.Info("image is available")
			return true, nil
		case types.ImageStatePending:
			log.Info("image still pending")
			return false, nil
		default:
			return false, fmt.Errorf("%w: %s", ErrImageState, state)
		}
	})
}
