package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"secret.letters/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		sqlBytes, err := migrationsFS.ReadFile(filepath.ToSlash("migrations/" + name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Create relies on the unique secret_code constraint. The conditional upsert
// only overwrites a row that was already dead when letter was sent.
func (p *PostgresStore) Create(ctx context.Context, letter *models.Letter) error {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO letters (id, secret_code, from_name, to_name, body, signature, image, sent, expires)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (secret_code) DO UPDATE SET
			id = EXCLUDED.id,
			from_name = EXCLUDED.from_name,
			to_name = EXCLUDED.to_name,
			body = EXCLUDED.body,
			signature = EXCLUDED.signature,
			image = EXCLUDED.image,
			sent = EXCLUDED.sent,
			expires = EXCLUDED.expires,
			has_reply = FALSE,
			reply_body = NULL,
			reply_signature = NULL,
			reply_image = NULL,
			reply_sent = NULL
		WHERE letters.expires < EXCLUDED.sent
	`, letter.ID, letter.SecretCode, letter.From, letter.To, letter.Text, letter.Signature,
		letter.Image, letter.Sent, letter.Expires)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, code string) (*models.Letter, error) {
	var (
		l              models.Letter
		replyBody      *string
		replySignature *string
		replyImage     *string
		replySent      *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, secret_code, from_name, to_name, body, signature, image, sent, expires,
		       has_reply, reply_body, reply_signature, reply_image, reply_sent
		FROM letters WHERE secret_code = $1
	`, code).Scan(&l.ID, &l.SecretCode, &l.From, &l.To, &l.Text, &l.Signature, &l.Image,
		&l.Sent, &l.Expires, &l.HasReply, &replyBody, &replySignature, &replyImage, &replySent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if l.HasReply && replySent != nil {
		l.Reply = &models.Reply{
			Text:      deref(replyBody),
			Signature: deref(replySignature),
			Image:     deref(replyImage),
			Sent:      *replySent,
		}
	}
	return &l, nil
}

func (p *PostgresStore) DeleteIfExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM letters WHERE secret_code = $1 AND expires < $2`, code, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) AddReply(ctx context.Context, code string, reply models.Reply, now time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE letters
		SET has_reply = TRUE, reply_body = $2, reply_signature = $3, reply_image = $4, reply_sent = $5
		WHERE secret_code = $1 AND has_reply = FALSE AND expires >= $6
	`, code, reply.Text, reply.Signature, reply.Image, reply.Sent, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	letter, err := p.Get(ctx, code)
	if err != nil {
		return err
	}
	if letter.Expired(now) {
		return ErrExpired
	}
	return ErrAlreadyReplied
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM letters WHERE expires < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
