package seed

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/goccy/go-json"

	"github.com/eden-task/usersvc/internal/log"
	"github.com/eden-task/usersvc/internal/user"
	"github.com/eden-task/usersvc/internal/xerrors"
)

// maxFixtureBytes bounds the fixture document we are willing to decode.
const maxFixtureBytes = 4 << 20

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter whose value is the S3 object key of the current
	// fixture document.
	SSMParam string

	// S3 location for fixture documents: s3://{bucket}/{prefix}/{key}
	S3Bucket string
	S3Prefix string

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Loader struct {
	opts      LoaderOptions
	ssmClient ssmAPI
	s3Client  s3API
	logger    log.Logger
}

// NewLoader creates a new fixture Loader with the given options
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.S3Bucket == "" {
		return nil, xerrors.New("S3Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	var awsCfg aws.Config
	var err error
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	return &Loader{
		opts:      opts,
		ssmClient: ssm.NewFromConfig(awsCfg),
		s3Client:  s3.NewFromConfig(awsCfg),
		logger:    opts.Logger,
	}, nil
}

// FetchCurrentKey gets the current fixture object key from SSM
func (l *Loader) FetchCurrentKey(ctx context.Context) (string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	key := strings.TrimSpace(*out.Parameter.Value)
	if key == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}

	return key, nil
}

// s3Key returns the S3 object key for a given fixture name
func (l *Loader) s3Key(name string) string {
	if l.opts.S3Prefix != "" {
		return l.opts.S3Prefix + "/" + name
	}
	return name
}

// Download fetches and decodes a fixture document from S3
func (l *Loader) Download(ctx context.Context, name string) ([]user.User, error) {
	key := l.s3Key(name)

	l.logger.Info(ctx, "downloading seed fixtures",
		"bucket", l.opts.S3Bucket,
		"key", key,
	)

	out, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.opts.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", l.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(out.Body, maxFixtureBytes+1))
	if err != nil {
		return nil, xerrors.Wrap(err, "read fixture document")
	}
	if len(raw) > maxFixtureBytes {
		return nil, xerrors.Newf("fixture document exceeds %d bytes", maxFixtureBytes)
	}

	var fixtures []user.User
	if err := json.Unmarshal(raw, &fixtures); err != nil {
		return nil, xerrors.Wrapf(err, "decode fixture document %s", key)
	}

	l.logger.Info(ctx, "downloaded seed fixtures",
		"bytes", len(raw),
		"users", len(fixtures),
	)

	return fixtures, nil
}

// Load fetches the current fixture document and returns its users
func (l *Loader) Load(ctx context.Context) ([]user.User, error) {
	key, err := l.FetchCurrentKey(ctx)
	if err != nil {
		return nil, err
	}
	return l.Download(ctx, key)
}

// LoadInto fetches the current fixture document and applies it to the
// repository, returning the number of users inserted.
func (l *Loader) LoadInto(ctx context.Context, repo user.Repository) (int, error) {
	fixtures, err := l.Load(ctx)
	if err != nil {
		return 0, err
	}
	return Apply(ctx, repo, fixtures)
}
