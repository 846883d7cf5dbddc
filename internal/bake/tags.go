package bake

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	// 'Name' is well-known within AWS itself; the rest identify resources
	// created by this tool for later auditing or fallback cleanup.
	tagKeyName      = "Name"
	tagKeyBuiltBy   = "BuiltBy"
	tagKeyVersion   = "Version"
	tagDefaultBuilt = "amibake"
)

// buildTags produces the key-value pairs attached to the build's instance
// and resulting image.
func buildTags(name, version string) []types.Tag {
	return []types.Tag{
		{
			Key:   aws.String(tagKeyName),
			Value: aws.String(name),
		},
		{
			Key:   aws.String(tagKeyBuiltBy),
			Value: aws.String(tagDefaultBuilt),
		},
		{
			Key:   aws.String(tagKeyVersion),
			Value: aws.String(version),
		},
	}
}
