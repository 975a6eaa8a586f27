package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of the S3 client used to fetch artifacts.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OpenConfig selects and configures the model backend.
type OpenConfig struct {
	// Path is a local file, an s3://bucket/key URI or an http(s) model server URL.
	Path string
	// Name is the served model name for http(s) paths.
	Name string

	S3Region   string
	S3Endpoint string
	S3Client   ObjectGetter

	HTTPClient *http.Client

	// Expected tensor shape; zero values skip the check.
	Height   int
	Width    int
	Channels int
}

// Open loads the model named by cfg.Path. Any error here is fatal to startup.
func Open(ctx context.Context, cfg OpenConfig) (Oracle, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("model path is required")
	}

	if strings.HasPrefix(cfg.Path, "http://") || strings.HasPrefix(cfg.Path, "https://") {
		return NewRemoteModel(ctx, cfg.Path, cfg.Name, cfg.HTTPClient)
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(cfg.Path, "s3://") {
		data, err = fetchS3(ctx, cfg)
	} else {
		data, err = os.ReadFile(cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", cfg.Path, err)
	}

	model, err := ParseDense(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load model artifact %s: %w", cfg.Path, err)
	}

	if cfg.Height > 0 {
		h, w, c := model.InputShape()
		if h != cfg.Height || w != cfg.Width || c != cfg.Channels {
			return nil, fmt.Errorf("model input %dx%dx%d does not match preprocessing output %dx%dx%d",
				h, w, c, cfg.Height, cfg.Width, cfg.Channels)
		}
	}

	return model, nil
}

func fetchS3(ctx context.Context, cfg OpenConfig) ([]byte, error) {
	u, err := url.Parse(cfg.Path)
	if err != nil {
		return nil, err
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 uri %q", cfg.Path)
	}

	client := cfg.S3Client
	if client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
				o.UsePathStyle = true
			}
		})
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	return io.ReadAll(out.Body)
}
