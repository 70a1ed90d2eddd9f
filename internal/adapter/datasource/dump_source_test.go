package datasource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/bookcard-runtime/internal/domain"
)

func TestTrigramSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, trigramSimilarity("Dune", "dune"))
	assert.Equal(t, 0.0, trigramSimilarity("", "anything"))
	assert.Greater(t, trigramSimilarity("The Hobbit", "The Hobit"), 0.6)
}

func TestDumpSource_SearchAuthorExactEquality(t *testing.T) {
	src := NewDumpSource("local_dump", []DumpAuthorRecord{
		{Data: domain.AuthorData{Key: "a1", Name: "Frank Herbert"}},
		{Data: domain.AuthorData{Key: "a2", Name: "Ursula K. Le Guin", AlternateNames: []string{"Ursula Le Guin"}}},
	}, nil, 0)

	results, err := src.SearchAuthor(context.Background(), "frank herbert", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].Key)

	results, err = src.SearchAuthor(context.Background(), "Ursula Le Guin", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a2", results[0].Key)

	results, err = src.SearchAuthor(context.Background(), "Nobody Here", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDumpSource_SearchBookByTrigramTitle(t *testing.T) {
	src := NewDumpSource("local_dump", nil, []DumpBookRecord{
		{Data: domain.BookData{Key: "b1", Title: "Dune", ISBN: "123", Authors: []string{"Frank Herbert"}}},
	}, 0.6)

	results, err := src.SearchBook(context.Background(), "Dune", "", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = src.SearchBook(context.Background(), "Completely Unrelated Title", "", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDumpSource_GetAuthorByKey(t *testing.T) {
	src := NewDumpSource("local_dump", []DumpAuthorRecord{
		{Data: domain.AuthorData{Key: "a1", Name: "Frank Herbert"}},
	}, nil, 0)

	a, err := src.GetAuthor(context.Background(), "a1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Frank Herbert", a.Name)

	a, err = src.GetAuthor(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, a)
}
