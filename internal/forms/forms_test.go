package forms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	keys []string
	err  error
}

func (s stubLister) List(ctx context.Context, prefix string) ([]string, error) {
	return s.keys, s.err
}

type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) IssueDownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

type countingObserver map[string]int

func (c countingObserver) ObserveLink(outcome string) { c[outcome]++ }

func TestLoadCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("Keeps PDFs Only", func(t *testing.T) {
		c := LoadCatalog(ctx, stubLister{keys: []string{
			"Forms/", "Forms/Form A.pdf", "Forms/readme.txt", "Forms/Form B.PDF", "Forms/archive/Form C.pdf",
		}}, "Forms/")
		assert.Equal(t, []string{"Form A.pdf", "Form B.PDF", "Form C.pdf"}, c.Names())
		assert.Equal(t, 3, c.Len())
		assert.Equal(t, "Forms/Form A.pdf", c.Key("Form A.pdf"))
		assert.Equal(t, "Forms/archive/Form C.pdf", c.Key("Form C.pdf"))
	})

	t.Run("Listing Failure Gives Empty Catalog", func(t *testing.T) {
		c := LoadCatalog(ctx, stubLister{err: errors.New("denied")}, "Forms/")
		assert.Equal(t, 0, c.Len())
		assert.Empty(t, c.Names())
	})
}

func TestStem(t *testing.T) {
	assert.Equal(t, "Form A", Stem("Form A.pdf"))
	assert.Equal(t, "Form B", Stem("Form B.PDF"))
	assert.Equal(t, "notes.txt", Stem("notes.txt"))
}

func TestAugmenter_Augment(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog("Forms/", []string{"Form A.pdf", "Form B.pdf", "Meter Test Request.pdf"})

	t.Run("Links Mentioned Forms In Catalog Order", func(t *testing.T) {
		issuer := new(MockIssuer)
		issuer.On("IssueDownloadLink", ctx, "Forms/Form A.pdf", time.Hour).Return("https://s3/a?sig", nil)
		issuer.On("IssueDownloadLink", ctx, "Forms/Meter Test Request.pdf", time.Hour).Return("https://s3/m?sig", nil)
		obs := countingObserver{}

		out, links := NewAugmenter(catalog, issuer, time.Hour, obs).Augment(ctx,
			"You can download METER TEST REQUEST.pdf, and also form a for the connection.")
		require.Len(t, links, 2)
		assert.Equal(t, Link{Form: "Form A.pdf", URL: "https://s3/a?sig"}, links[0])
		assert.Equal(t, "Meter Test Request.pdf", links[1].Form)
		assert.Contains(t, out, "**Recommended downloads:**\n- [Form A.pdf](https://s3/a?sig)\n- [Meter Test Request.pdf](https://s3/m?sig)")
		assert.Equal(t, 2, obs["issued"])
		issuer.AssertExpectations(t)
	})

	t.Run("Repeated Mentions Link Once", func(t *testing.T) {
		issuer := new(MockIssuer)
		issuer.On("IssueDownloadLink", ctx, "Forms/Form B.pdf", time.Hour).Return("https://s3/b", nil).Once()

		_, links := NewAugmenter(catalog, issuer, 0, nil).Augment(ctx, "Form B. Again: Form B.pdf")
		assert.Len(t, links, 1)
		issuer.AssertExpectations(t)
	})

	t.Run("No Mention Leaves Answer", func(t *testing.T) {
		issuer := new(MockIssuer)
		out, links := NewAugmenter(catalog, issuer, time.Hour, nil).Augment(ctx, "Outages are reported on 15454.")
		assert.Equal(t, "Outages are reported on 15454.", out)
		assert.Nil(t, links)
		issuer.AssertNotCalled(t, "IssueDownloadLink", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Failed Link Is Skipped", func(t *testing.T) {
		issuer := new(MockIssuer)
		issuer.On("IssueDownloadLink", ctx, "Forms/Form A.pdf", time.Hour).Return("", errors.New("expired credentials"))
		issuer.On("IssueDownloadLink", ctx, "Forms/Form B.pdf", time.Hour).Return("https://s3/b", nil)
		obs := countingObserver{}

		out, links := NewAugmenter(catalog, issuer, time.Hour, obs).Augment(ctx, "Use Form A or Form B.")
		require.Len(t, links, 1)
		assert.Equal(t, "Form B.pdf", links[0].Form)
		assert.NotContains(t, out, "Form A.pdf]")
		assert.Equal(t, 1, obs["failed"])
	})

	t.Run("All Links Failed", func(t *testing.T) {
		issuer := new(MockIssuer)
		issuer.On("IssueDownloadLink", ctx, mock.Anything, time.Hour).Return("", errors.New("down"))

		out, links := NewAugmenter(catalog, issuer, time.Hour, nil).Augment(ctx, "Use Form A.")
		assert.Equal(t, "Use Form A.", out)
		assert.Empty(t, links)
	})
}
