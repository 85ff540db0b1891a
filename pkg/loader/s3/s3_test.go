package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeObjectAPI struct {
	body    string
	length  *int64
	headErr error
	gets    int
}

func (f *fakeObjectAPI) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: f.length}, nil
}

func (f *fakeObjectAPI) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestSource(t *testing.T) {
	api := &fakeObjectAPI{body: "a,b\n", length: aws.Int64(4)}
	src := NewSourceWithClient(api, "uploads", "runs/1.csv")

	if src.Name() != "s3://uploads/runs/1.csv" {
		t.Fatalf("unexpected name %q", src.Name())
	}
	size, err := src.Size(context.Background())
	if err != nil || size != 4 {
		t.Fatalf("Size() = %d, %v", size, err)
	}

	for range 2 {
		rc, err := src.Open(context.Background())
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		rc.Close()
	}
	if api.gets != 2 {
		t.Fatalf("expected a GetObject per Open, got %d", api.gets)
	}
}

func TestSource_UnknownLengthAndErrors(t *testing.T) {
	src := NewSourceWithClient(&fakeObjectAPI{}, "b", "k")
	size, err := src.Size(context.Background())
	if err != nil || size != -1 {
		t.Fatalf("expected unknown size, got %d, %v", size, err)
	}

	boom := errors.New("boom")
	src = NewSourceWithClient(&fakeObjectAPI{headErr: boom}, "b", "k")
	if _, err := src.Size(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped head error, got %v", err)
	}
}
