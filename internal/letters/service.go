// Package letters implements the letter lifecycle: submission, retrieval,
// a single reply, and expiry eviction.
package letters

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"secret.letters/internal/crypto"
	"secret.letters/internal/metrics"
	"secret.letters/internal/models"
	"secret.letters/internal/store"
)

const (
	DefaultTTL           = 24 * time.Hour
	DefaultMaxImageChars = 5_000_000
)

var (
	ErrValidation      = errors.New("missing required field")
	ErrPayloadTooLarge = errors.New("image too large")
)

// ValidationError names the first required field that was empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type SubmitInput struct {
	From       string `json:"from" validate:"required"`
	To         string `json:"to" validate:"required"`
	SecretCode string `json:"secretCode" validate:"required"`
	Text       string `json:"text" validate:"required"`
	Signature  string `json:"signature" validate:"required"`
	Image      string `json:"image,omitempty"`
}

type ReplyInput struct {
	Text      string `json:"text" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	Image     string `json:"image,omitempty"`
}

type Options struct {
	TTL           time.Duration
	MaxImageChars int
	// Sealer, when set, stores letters under a keyed digest of their code
	// with contents encrypted by a key derived from it.
	Sealer *crypto.Sealer
	// Now overrides the clock; tests only.
	Now func() time.Time
}

type Service struct {
	store         store.Store
	validate      *validator.Validate
	ttl           time.Duration
	maxImageChars int
	sealer        *crypto.Sealer
	now           func() time.Time
}

func NewService(s store.Store, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxImageChars <= 0 {
		opts.MaxImageChars = DefaultMaxImageChars
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(jsonName)

	return &Service{
		store:         s,
		validate:      v,
		ttl:           opts.TTL,
		maxImageChars: opts.MaxImageChars,
		sealer:        opts.Sealer,
		now:           opts.Now,
	}
}

// Submit stores a new letter and returns its expiry.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (time.Time, error) {
	if err := s.check(in, in.Image); err != nil {
		metrics.LetterOps.WithLabelValues("submit", outcome(err)).Inc()
		return time.Time{}, err
	}

	now := s.now().UTC()
	letter := &models.Letter{
		ID:         uuid.NewString(),
		SecretCode: in.SecretCode,
		From:       in.From,
		To:         in.To,
		Text:       in.Text,
		Signature:  in.Signature,
		Image:      in.Image,
		Sent:       now,
		Expires:    now.Add(s.ttl),
	}
	expires := letter.Expires

	if s.sealer != nil {
		letter.SecretCode = s.sealer.Digest(in.SecretCode)
		if err := s.sealFields(in.SecretCode, &letter.From, &letter.To, &letter.Text, &letter.Signature, &letter.Image); err != nil {
			metrics.LetterOps.WithLabelValues("submit", "error").Inc()
			return time.Time{}, err
		}
	}

	if err := s.store.Create(ctx, letter); err != nil {
		metrics.LetterOps.WithLabelValues("submit", outcome(err)).Inc()
		if errors.Is(err, store.ErrConflict) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("creating letter: %w", err)
	}

	metrics.LetterOps.WithLabelValues("submit", "ok").Inc()
	return expires, nil
}

// Retrieve returns the live letter for code. A dead letter is deleted on the
// spot and reported exactly like one that never existed.
func (s *Service) Retrieve(ctx context.Context, code string) (*models.Letter, error) {
	if code == "" {
		return nil, &ValidationError{Field: "secretCode"}
	}

	key := s.key(code)
	letter, err := s.store.Get(ctx, key)
	if err != nil {
		metrics.LetterOps.WithLabelValues("retrieve", outcome(err)).Inc()
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("loading letter: %w", err)
	}

	if now := s.now(); letter.Expired(now) {
		if _, err := s.store.DeleteIfExpired(ctx, key, now); err != nil {
			log.Printf("service=letters msg=%q err=%v", "lazy_delete_failed", err)
		}
		metrics.LetterOps.WithLabelValues("retrieve", "expired").Inc()
		return nil, store.ErrNotFound
	}

	if s.sealer != nil {
		if err := s.open(code, letter); err != nil {
			metrics.LetterOps.WithLabelValues("retrieve", "error").Inc()
			return nil, err
		}
	}

	metrics.LetterOps.WithLabelValues("retrieve", "ok").Inc()
	return letter, nil
}

// Reply attaches the one allowed reply to a live letter.
func (s *Service) Reply(ctx context.Context, code string, in ReplyInput) error {
	if code == "" {
		return &ValidationError{Field: "secretCode"}
	}
	if err := s.check(in, in.Image); err != nil {
		metrics.LetterOps.WithLabelValues("reply", outcome(err)).Inc()
		return err
	}

	now := s.now().UTC()
	reply := models.Reply{
		Text:      in.Text,
		Signature: in.Signature,
		Image:     in.Image,
		Sent:      now,
	}
	if s.sealer != nil {
		if err := s.sealFields(code, &reply.Text, &reply.Signature, &reply.Image); err != nil {
			metrics.LetterOps.WithLabelValues("reply", "error").Inc()
			return err
		}
	}

	err := s.store.AddReply(ctx, s.key(code), reply, now)
	metrics.LetterOps.WithLabelValues("reply", outcome(err)).Inc()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired), errors.Is(err, store.ErrAlreadyReplied):
		return err
	default:
		return fmt.Errorf("adding reply: %w", err)
	}
}

// Sweep deletes every letter that expired before now.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.store.DeleteExpired(ctx, s.now())
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return n, fmt.Errorf("sweeping expired letters: %w", err)
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepRemoved.Add(float64(n))
	return n, nil
}

func (s *Service) key(code string) string {
	if s.sealer != nil {
		return s.sealer.Digest(code)
	}
	return code
}

func (s *Service) open(code string, l *models.Letter) error {
	l.SecretCode = code
	fields := []*string{&l.From, &l.To, &l.Text, &l.Signature, &l.Image}
	if l.Reply != nil {
		fields = append(fields, &l.Reply.Text, &l.Reply.Signature, &l.Reply.Image)
	}
	for _, f := range fields {
		v, err := s.sealer.OpenString(*f, code)
		if err != nil {
			return fmt.Errorf("opening letter: %w", err)
		}
		*f = v
	}
	return nil
}

func (s *Service) sealFields(code string, fields ...*string) error {
	for _, f := range fields {
		v, err := s.sealer.SealString(*f, code)
		if err != nil {
			return fmt.Errorf("sealing letter: %w", err)
		}
		*f = v
	}
	return nil
}

func (s *Service) check(in any, image string) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field()}
		}
		return err
	}
	if utf8.RuneCountInString(image) > s.maxImageChars {
		return ErrPayloadTooLarge
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrAlreadyReplied):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrExpired):
		return "expired"
	default:
		return "error"
	}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
