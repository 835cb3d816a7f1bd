package main

import (
	"context"

	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
)

// runImport imports whichever files were given. With both, users load first.
// A partial result is returned alongside the error when the run was cut short.
func runImport(ctx context.Context, svc importdomain.Service, usersPath, transactionsPath string) (any, error) {
	switch {
	case usersPath != "" && transactionsPath != "":
		users, closeUsers, err := importdomain.OpenFile(usersPath)
		if err != nil {
			return nil, err
		}
		defer closeUsers()
		transactions, closeTransactions, err := importdomain.OpenFile(transactionsPath)
		if err != nil {
			return nil, err
		}
		defer closeTransactions()
		return result(svc.ImportAll(ctx, users, transactions))
	case usersPath != "":
		users, closeUsers, err := importdomain.OpenFile(usersPath)
		if err != nil {
			return nil, err
		}
		defer closeUsers()
		return result(svc.ImportUsers(ctx, users))
	default:
		transactions, closeTransactions, err := importdomain.OpenFile(transactionsPath)
		if err != nil {
			return nil, err
		}
		defer closeTransactions()
		return result(svc.ImportTransactions(ctx, transactions))
	}
}

// result keeps a nil pointer from turning into a non-nil interface.
func result[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}
