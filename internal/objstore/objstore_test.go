package objstore_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"releasedesk/internal/domain"
	"releasedesk/internal/objstore"
)

// fakeS3 is an in-memory bucket honouring Prefix and Delimiter.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix, delim := aws.ToString(in.Prefix), aws.ToString(in.Delimiter)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, delim); delim != "" && i >= 0 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
			}
			continue
		}
		mod := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k]))), LastModified: &mod})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + aws.ToString(in.Key) + "?sig=x", Method: "GET"}, nil
}

func browsers(t *testing.T) map[string]objstore.Browser {
	return map[string]objstore.Browser{
		"local": objstore.Local{Root: t.TempDir()},
		"s3":    &objstore.S3{API: newFakeS3(), Presign: fakePresigner{}, Bucket: "models", Prefix: objstore.DefaultPrefix},
	}
}

func TestBrowserListPutFetch(t *testing.T) {
	for name, b := range browsers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Put(ctx, "ITA/consumer/input.csv", []byte("a,b\n")))
			require.NoError(t, b.Put(ctx, "ITA/readme.txt", []byte("hello")))
			require.NoError(t, b.Put(ctx, "DEU/tagger/rules.json", []byte("{}")))

			root, err := b.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, root, 2)
			assert.Equal(t, "DEU", root[0].Name)
			assert.True(t, root[0].Dir)

			ita, err := b.List(ctx, "ITA")
			require.NoError(t, err)
			require.Len(t, ita, 2)
			assert.Equal(t, objstore.Entry{Name: "consumer", Key: "ITA/consumer", Dir: true}, withoutTime(ita[0]))
			assert.Equal(t, "readme.txt", ita[1].Name)
			assert.Equal(t, "ITA/readme.txt", ita[1].Key)
			assert.Equal(t, int64(5), ita[1].Size)

			data, err := b.Fetch(ctx, ita[1].Key)
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))

			_, err = b.Fetch(ctx, "ITA/missing.txt")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			_, err = b.Fetch(ctx, "../etc/passwd")
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func withoutTime(e objstore.Entry) objstore.Entry {
	e.LastModified = nil
	return e
}

func TestPresignedURL(t *testing.T) {
	b := browsers(t)
	url, err := b["s3"].URL(context.Background(), "ITA/readme.txt", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/TEST_SUITE/ITA/readme.txt?sig=x", url)

	_, err = b["local"].URL(context.Background(), "ITA/readme.txt", time.Minute)
	assert.ErrorIs(t, err, objstore.ErrUnsupported)
}
