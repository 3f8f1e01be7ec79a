package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap/zaptest"
)

type fakeSender struct {
	msgs []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, messages...)
	return nil
}

type fakeS3 struct {
	bucket string
	key    string
	body   []byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestMailerRendersTemplate(t *testing.T) {
	var snd fakeSender
	m, err := newMailer("carve@example.com", &snd)
	require.NoError(t, err)

	vars := map[string]any{
		"To":      "Jill",
		"From":    "Bill",
		"Message": "hello <world>",
		"Link":    "https://carve.xyz/inscription?id=0xabc",
	}

	err = m.Send(context.Background(), "bill@example.com", "Your carving", "carving_created", vars)
	require.NoError(t, err)
	require.Len(t, snd.msgs, 1)

	var buf bytes.Buffer
	_, err = snd.msgs[0].WriteTo(&buf)
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "Your carving")
	require.Contains(t, out, "bill@example.com")
}

func TestMailerErrors(t *testing.T) {
	snd := fakeSender{err: errors.New("smtp down")}
	m, err := newMailer("carve@example.com", &snd)
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, m.Send(ctx, "", "s", "carving_created", nil))
	require.Error(t, m.Send(ctx, "bill@example.com", "s", "no_such_template", nil))
	require.Error(t, m.Send(ctx, "bill@example.com", "s", "carving_lookup", map[string]any{"Links": []string{"a"}}))
}

func TestExporterWritesCSV(t *testing.T) {
	var f fakeS3
	e := newExporter(&f, "sheets", "")

	rows := []Row{
		{Email: "bill@example.com", Message: "hello, world"},
		{Email: "jill@example.com", Message: "second"},
	}

	require.NoError(t, e.Export(context.Background(), rows))
	require.Equal(t, "sheets", f.bucket)
	require.Equal(t, "orders.csv", f.key)

	lines := strings.Split(strings.TrimSpace(string(f.body)), "\n")
	require.Equal(t, []string{"email,message", `bill@example.com,"hello, world"`, "jill@example.com,second"}, lines)
}

func TestNotifierWithoutBackends(t *testing.T) {
	n := Notifier{Log: zaptest.NewLogger(t).Sugar()}

	ctx := context.Background()
	err := n.SendTemplateEmail(ctx, "bill@example.com", "s", "carving_created", nil)
	require.ErrorIs(t, err, ErrNoMailer)
	require.NoError(t, n.ExportOrdersToSheet(ctx, []Row{{Email: "a", Message: "b"}}))
}
