package document

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	perr "guardian/internal/errors"
	"guardian/redact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	args  []string
	stdin []byte
}

func fakeHelper(t *testing.T, replies map[string]string, calls *[]recordedCall) HelperRunner {
	return func(_ context.Context, args []string, stdin []byte) ([]byte, error) {
		*calls = append(*calls, recordedCall{args: args, stdin: stdin})
		reply, ok := replies[args[0]]
		if !ok {
			t.Fatalf("unexpected helper command %q", args[0])
		}
		return []byte(reply), nil
	}
}

func TestHelperDocumentApplyAndSave(t *testing.T) {
	var calls []recordedCall
	run := fakeHelper(t, map[string]string{
		"inspect": `{"page_count": 2}`,
		"search":  `{"boxes": [{"x": 1, "y": 2, "width": 3, "height": 4}]}`,
		"apply":   `{}`,
	}, &calls)

	doc, err := Open("in.pdf", OpenOptions{Runner: run})
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount())

	page, err := doc.Page(1)
	require.NoError(t, err)
	boxes, err := page.Search("John")
	require.NoError(t, err)
	assert.Equal(t, []Box{{X: 1, Y: 2, Width: 3, Height: 4}}, boxes)
	assert.Equal(t, []string{"search", "in.pdf", "1", "John"}, calls[1].args)

	_, err = ApplyPDF(doc, []redact.Candidate{
		{ID: "a", Category: redact.CategoryName, Coordinates: &redact.Coordinates{Page: 1, X: 1, Y: 1, Width: 5, Height: 5}, Accepted: true},
		{ID: "f", Category: redact.CategoryFaces, Coordinates: &redact.Coordinates{Page: 1, X: 9, Y: 9, Width: 5, Height: 5}, Accepted: true},
	})
	require.NoError(t, err)
	require.NoError(t, doc.Save("out.pdf"))

	last := calls[len(calls)-1]
	assert.Equal(t, []string{"apply", "in.pdf", "out.pdf"}, last.args)

	var plan applyPlan
	require.NoError(t, json.Unmarshal(last.stdin, &plan))
	require.Len(t, plan.Pages, 1)
	assert.Len(t, plan.Pages[0].Redact, 1)
	assert.Len(t, plan.Pages[0].Cover, 1)
	assert.True(t, plan.Deflate)
	assert.Equal(t, 4, plan.Garbage)
	assert.Contains(t, plan.Metadata[MetadataKey], `"1":[`)
}

func TestHelperDocumentRestoresFingerprints(t *testing.T) {
	var calls []recordedCall
	run := fakeHelper(t, map[string]string{
		"inspect": `{"page_count": 1, "metadata": {"guardian_redactions": "{\"1\":[\"abc\"]}"}}`,
	}, &calls)

	doc, err := OpenHelper("in.pdf", run, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, doc.AppliedFingerprints(1))
}

func TestHelperDocumentErrors(t *testing.T) {
	failing := func(context.Context, []string, []byte) ([]byte, error) {
		return nil, errors.New("boom")
	}
	_, err := OpenHelper("in.pdf", failing, 0)
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeIOFailure))

	var calls []recordedCall
	run := fakeHelper(t, map[string]string{
		"inspect": `{"page_count": 1}`,
		"text":    `{"error": "damaged page"}`,
	}, &calls)
	doc, err := OpenHelper("in.pdf", run, 0)
	require.NoError(t, err)

	_, err = doc.Page(3)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))

	page, err := doc.Page(1)
	require.NoError(t, err)
	_, err = page.Text()
	assert.ErrorContains(t, err, "damaged page")
}
