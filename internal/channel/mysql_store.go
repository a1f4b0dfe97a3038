package channel

import (
	"context"
	"database/sql"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"

	"github.com/JaroAI777/synaps1/deploy/migrations"
	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// MySQLStore persists signed channel states in MySQL so challenges
// survive process restarts.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL backed store and ensures its schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "mysql dsn must not be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open mysql")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "reach mysql")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	stmts, err := migrations.Statements()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "load schema migrations")
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "apply schema migration")
		}
	}
	return nil
}

// Save upserts the state; an older nonce never overwrites a newer one.
func (s *MySQLStore) Save(ctx context.Context, state StoredState) error {
	if err := state.State.State.Validate(); err != nil {
		return err
	}

	const stmt = `INSERT INTO channel_states
        (channel_id, participant1, participant2, balance1, balance2, nonce, sig1, sig2, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        participant1 = VALUES(participant1),
        participant2 = VALUES(participant2),
        balance1 = IF(VALUES(nonce) > nonce, VALUES(balance1), balance1),
        balance2 = IF(VALUES(nonce) > nonce, VALUES(balance2), balance2),
        sig1 = IF(VALUES(nonce) > nonce, VALUES(sig1), sig1),
        sig2 = IF(VALUES(nonce) > nonce, VALUES(sig2), sig2),
        updated_at = IF(VALUES(nonce) > nonce, VALUES(updated_at), updated_at),
        nonce = IF(VALUES(nonce) > nonce, VALUES(nonce), nonce)`

	inner := state.State.State
	_, err := s.db.ExecContext(ctx, stmt,
		channelIDHex(inner.ChannelID),
		state.Pair.Participant1.Hex(),
		state.Pair.Participant2.Hex(),
		inner.Balance1.String(),
		inner.Balance2.String(),
		inner.Nonce,
		state.State.Sig1,
		state.State.Sig2,
		time.Now().Unix(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save channel state")
	}
	return nil
}

// Latest returns the stored state for channelID.
func (s *MySQLStore) Latest(ctx context.Context, channelID [32]byte) (*StoredState, error) {
	const query = `SELECT channel_id, participant1, participant2, balance1, balance2, nonce, sig1, sig2
        FROM channel_states WHERE channel_id = ?`
	row := s.db.QueryRowContext(ctx, query, channelIDHex(channelID))
	state, err := scanStoredState(row)
	if err == sql.ErrNoRows {
		return nil, xerrors.New(xerrors.CodeChannelNotFound, "no stored state for channel",
			xerrors.WithMetadata("channel_id", channelIDHex(channelID)))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load channel state")
	}
	return state, nil
}

// List returns every stored state.
func (s *MySQLStore) List(ctx context.Context) ([]StoredState, error) {
	const query = `SELECT channel_id, participant1, participant2, balance1, balance2, nonce, sig1, sig2
        FROM channel_states`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list channel states")
	}
	defer rows.Close()

	var out []StoredState
	for rows.Next() {
		state, err := scanStoredState(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan channel state")
		}
		out = append(out, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate channel states")
	}
	return out, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredState(row rowScanner) (*StoredState, error) {
	var (
		idHex, p1Hex, p2Hex   string
		balance1Str, balance2 string
		nonce                 uint64
		sig1, sig2            []byte
	)
	if err := row.Scan(&idHex, &p1Hex, &p2Hex, &balance1Str, &balance2, &nonce, &sig1, &sig2); err != nil {
		return nil, err
	}

	rawID, err := hex.DecodeString(strings.TrimPrefix(idHex, "0x"))
	if err != nil || len(rawID) != 32 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "corrupt channel id: "+idHex)
	}
	var channelID [32]byte
	copy(channelID[:], rawID)

	b1, ok := new(big.Int).SetString(balance1Str, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "corrupt balance1: "+balance1Str)
	}
	b2, ok := new(big.Int).SetString(balance2, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "corrupt balance2: "+balance2)
	}

	return &StoredState{
		Pair: Pair{
			Participant1: common.HexToAddress(p1Hex),
			Participant2: common.HexToAddress(p2Hex),
		},
		State: SignedState{
			State: State{
				ChannelID: channelID,
				Balance1:  b1,
				Balance2:  b2,
				Nonce:     nonce,
			},
			Sig1: sig1,
			Sig2: sig2,
		},
	}, nil
}

var _ Store = (*MySQLStore)(nil)
