package credentials

import (
	"context"
	"strings"

	"TweetStreamPlatform/internal/domain"
	"TweetStreamPlatform/pkg/errors"
)

// Prober проверяет учетные данные у внешнего фида. Реализация по умолчанию
// отсутствует: проверка формы отсекает заведомый мусор без сетевого вызова.
type Prober interface {
	Probe(ctx context.Context, credentials domain.Credentials) error
}

// Validator проверяет учетные данные тенанта перед тем, как они попадут
// в хранилище и за них начнется битва
type Validator struct {
	prober Prober
}

// NewValidator создает новый валидатор. prober может быть nil.
func NewValidator(prober Prober) *Validator {
	return &Validator{prober: prober}
}

// Validate проверяет форму учетных данных и, если задан prober, их
// действительность у внешнего фида
func (v *Validator) Validate(ctx context.Context, credentials domain.Credentials) error {
	if err := ValidateShape(credentials); err != nil {
		return err
	}

	if v.prober != nil {
		if err := v.prober.Probe(ctx, credentials); err != nil {
			return errors.Wrap(err, errors.ErrUnauthorized, "feed rejected credentials")
		}
	}
	return nil
}

// ValidateShape проверяет, что все четыре поля заполнены и не содержат
// пробельных символов
func ValidateShape(credentials domain.Credentials) error {
	fields := []struct {
		name  string
		value string
	}{
		{"consumerKey", credentials.ConsumerKey},
		{"consumerSecret", credentials.ConsumerSecret},
		{"token", credentials.Token},
		{"tokenSecret", credentials.TokenSecret},
	}

	var problems []string
	for _, field := range fields {
		switch {
		case field.value == "":
			problems = append(problems, field.name+" is required")
		case strings.ContainsAny(field.value, " \t\r\n"):
			problems = append(problems, field.name+" must not contain whitespace")
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrValidation, "invalid credentials").WithDetails(strings.Join(problems, "; "))
	}
	return nil
}
