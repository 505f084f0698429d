package repository

import "context"

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres). Repository
// methods that take a Tx must accept nil as "no transaction".
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one store transaction, committing when fn
// returns nil and rolling back otherwise.
//
// tm.WithTx(ctx, func(ctx context.Context, tx Tx) error {
//	if err := turns.Create(ctx, tx, turn); err != nil {
//		return err
//	}
//	_, err := messages.MarkProcessed(ctx, tx, turn.MessageIDs)
//	return err
// })
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
