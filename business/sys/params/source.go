package params

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Source retrieves the flattened parameter hierarchy.
type Source interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// =============================================================================

// MapSource serves parameters from memory. Used in development and tests.
type MapSource map[string]string

// Fetch implements the Source interface.
func (ms MapSource) Fetch(ctx context.Context) (map[string]string, error) {
	return maps.Clone(ms), nil
}

// =============================================================================

// SSMSource reads the parameter hierarchy from AWS SSM Parameter Store.
type SSMSource struct {
	client ssm.GetParametersByPathAPIClient
	root   string
}

// NewSSMSource constructs a source that reads every parameter under root.
func NewSSMSource(client ssm.GetParametersByPathAPIClient, root string) *SSMSource {
	if root == "" {
		root = "/"
	}
	return &SSMSource{client: client, root: root}
}

// Fetch implements the Source interface. Parameter names are returned
// relative to the root, so /secrets/admin_key becomes secrets/admin_key.
func (s *SSMSource) Fetch(ctx context.Context) (map[string]string, error) {
	input := ssm.GetParametersByPathInput{
		Path:           aws.String(s.root),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}

	values := make(map[string]string)

	p := ssm.NewGetParametersByPathPaginator(s.client, &input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading parameters under %s: %w", s.root, err)
		}

		for _, prm := range page.Parameters {
			name := strings.TrimPrefix(aws.ToString(prm.Name), s.root)
			values[strings.TrimPrefix(name, "/")] = aws.ToString(prm.Value)
		}
	}

	return values, nil
}
