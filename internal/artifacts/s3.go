package artifacts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/casedesk/casedesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// s3Uploader is the slice of the S3 API the renderer needs.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store renders brief documents into an S3 bucket.
type S3Store struct {
	client s3Uploader
	bucket string
}

// NewS3Store creates an S3Store using the ambient AWS configuration.
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

func (s *S3Store) Render(ctx context.Context, brief *models.Brief) (string, error) {
	doc, err := renderDocument(brief)
	if err != nil {
		return "", err
	}

	key := ArtifactKey(brief)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("upload brief artifact: %w", err)
	}

	url := fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	log.Info().Str("client", brief.ClientID).Str("audience", string(brief.Audience)).Str("url", url).Msg("Brief artifact uploaded")
	return url, nil
}
