package kms

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

// AWSKMS wraps AWS Key Management Service Encrypt/Decrypt calls as a
// remote-only Client: master keys never leave KMS, so GetMasterKey always
// fails and wrap_locally must stay false for this backend.
type AWSKMS struct {
	client *kms.Client
	region string
}

// AWSKMSOptions configures the underlying AWS SDK v2 client. Endpoint is
// optional and only needed against a KMS-compatible endpoint other than
// the public AWS service (e.g. LocalStack for tests).
type AWSKMSOptions struct {
	Region   string
	Endpoint string
}

func NewAWSKMS(ctx context.Context, opts AWSKMSOptions) (*AWSKMS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("kms: loading AWS config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if opts.Endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}

	return &AWSKMS{
		client: kms.NewFromConfig(awsCfg, kmsOpts...),
		region: opts.Region,
	}, nil
}

// WrapKey calls KMS Encrypt with masterKeyID as the CMK id and dataKey as
// the plaintext, returning the base64-encoded ciphertext blob.
func (a *AWSKMS) WrapKey(ctx context.Context, dataKey []byte, masterKeyID string) (string, error) {
	out, err := a.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(masterKeyID),
		Plaintext: dataKey,
	})
	if err != nil {
		return "", fmt.Errorf("kms: %w: Encrypt(%s): %v", pqerrors.ErrKmsError, masterKeyID, err)
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

// UnwrapKey calls KMS Decrypt on the base64-decoded ciphertext blob.
// masterKeyID is passed as KeyId to pin the expected CMK, guarding against
// a ciphertext that was wrapped under a different key.
func (a *AWSKMS) UnwrapKey(ctx context.Context, wrapped string, masterKeyID string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("kms: %w: wrapped key is not base64: %v", pqerrors.ErrKmsError, err)
	}
	out, err := a.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(masterKeyID),
		CiphertextBlob: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: %w: Decrypt(%s): %v", pqerrors.ErrKmsError, masterKeyID, err)
	}
	return out.Plaintext, nil
}

// GetMasterKey is unsupported: AWS KMS never releases a CMK's raw bytes.
// Configure wrap_locally=false with this backend.
func (a *AWSKMS) GetMasterKey(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("kms: %w: AWS KMS does not release master key bytes; wrap_locally requires a different backend", pqerrors.ErrKmsError)
}
