package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingImportService struct {
	importdomain.Service
	calls []string
	seen  map[string]string
}

func (r *recordingImportService) read(kind string, src importdomain.Source) {
	data, _ := io.ReadAll(src.Reader)
	if r.seen == nil {
		r.seen = map[string]string{}
	}
	r.seen[kind] = string(data)
	r.calls = append(r.calls, kind)
}

func (r *recordingImportService) ImportUsers(ctx context.Context, src importdomain.Source) (*importdomain.Result, error) {
	r.read("users", src)
	return &importdomain.Result{Imported: 1}, nil
}

func (r *recordingImportService) ImportTransactions(ctx context.Context, src importdomain.Source) (*importdomain.Result, error) {
	r.read("transactions", src)
	return &importdomain.Result{Imported: 2}, nil
}

func (r *recordingImportService) ImportAll(ctx context.Context, users, transactions importdomain.Source) (*importdomain.AllResult, error) {
	r.read("users", users)
	r.read("transactions", transactions)
	return &importdomain.AllResult{Users: importdomain.Result{Imported: 1}, Transactions: importdomain.Result{Imported: 2}}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunImportBothFilesUsesImportAll(t *testing.T) {
	dir := t.TempDir()
	usersPath := writeFile(t, dir, "users.csv", "User_ID\nu-1\n")
	txPath := writeFile(t, dir, "tx.csv", "Row_ID\nt-1\n")

	svc := &recordingImportService{}
	out, err := runImport(context.Background(), svc, usersPath, txPath)
	require.NoError(t, err)

	res, ok := out.(*importdomain.AllResult)
	require.True(t, ok)
	assert.Equal(t, int64(2), res.Transactions.Imported)
	assert.Equal(t, []string{"users", "transactions"}, svc.calls)
	assert.Equal(t, "User_ID\nu-1\n", svc.seen["users"])
}

func TestRunImportSingleFile(t *testing.T) {
	dir := t.TempDir()
	txPath := writeFile(t, dir, "tx.csv", "Row_ID\nt-1\n")

	svc := &recordingImportService{}
	out, err := runImport(context.Background(), svc, "", txPath)
	require.NoError(t, err)

	res, ok := out.(*importdomain.Result)
	require.True(t, ok)
	assert.Equal(t, int64(2), res.Imported)
	assert.Equal(t, []string{"transactions"}, svc.calls)
}

func TestRunImportMissingFile(t *testing.T) {
	svc := &recordingImportService{}
	out, err := runImport(context.Background(), svc, filepath.Join(t.TempDir(), "absent.csv"), "")
	assert.Nil(t, out)
	assert.ErrorIs(t, err, importdomain.ErrMissingSource)
	assert.Empty(t, svc.calls)
}
