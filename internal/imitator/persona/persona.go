// Package persona holds everything the imitator says that is not generated:
// the system prompt, scheduling replies and the apology sent when generation
// fails. Values come from built-in defaults, optionally overridden by a YAML
// file.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Mimic/internal/imitator/generation"
)

// Persona is the imitator's scripted voice.
type Persona struct {
	// SystemPrompt must contain {chat_history} and {user_message}.
	SystemPrompt string `yaml:"system_prompt"`
	// Confirmation is sent after a booking. Placeholders: {date}, {time},
	// {link}, {name}.
	Confirmation string `yaml:"confirmation"`
	// SchedulingFallback is sent when a booking could not be made.
	SchedulingFallback string `yaml:"scheduling_fallback"`
	// Apology is sent when the generation backend fails.
	Apology string `yaml:"apology"`
	// MeetingSummary and MeetingDescription fill the calendar event.
	// Placeholders: {name}, {message}.
	MeetingSummary     string `yaml:"meeting_summary"`
	MeetingDescription string `yaml:"meeting_description"`
	// MeetingDuration is parsed with time.ParseDuration, e.g. "45m".
	MeetingDuration time.Duration `yaml:"meeting_duration"`
	// DateLayout and TimeLayout format the meeting time in Confirmation.
	DateLayout string `yaml:"date_layout"`
	TimeLayout string `yaml:"time_layout"`
	// Keywords extend the built-in scheduling keywords.
	Keywords []string `yaml:"keywords"`
}

const defaultPrompt = `Ты - помощник для проведения предварительных консультаций и назначения встреч.
Твоя задача - вежливо ответить на вопросы пользователя, собрать базовую информацию
о его потребностях и предложить видеовстречу через Google Meet.

Придерживайся следующих правил:
1. Общайся в дружелюбном, но профессиональном тоне
2. Не пиши слишком длинные сообщения (максимум 3-4 предложения)
3. Если пользователь интересуется услугами или задает вопросы, отвечай кратко и информативно
4. Предлагай видеоконсультацию после 2-3 обмена сообщениями
5. Если пользователь согласен на встречу, запроси удобное для него время
6. После получения информации о времени, подтверди создание встречи в Google Calendar
7. Если пользователь не готов к встрече, продолжай диалог и отвечай на вопросы

История предыдущего общения:
{chat_history}

Текущее сообщение пользователя:
{user_message}

Твой ответ:
`

// Default returns the built-in persona.
func Default() *Persona {
	return &Persona{
		SystemPrompt: defaultPrompt,
		Confirmation: "Отлично! Я запланировал(а) для вас встречу на {date} в {time}.\n\n" +
			"Ссылка для подключения: {link}\n\n" +
			"Пожалуйста, добавьте эту встречу в свой календарь. Буду ждать вас в указанное время!",
		SchedulingFallback: "К сожалению, не удалось запланировать встречу. " +
			"Возможно, вы могли бы уточнить желаемое время и дату? " +
			"Или мы можем попробовать другой способ связи.",
		Apology:            "Извините, произошла ошибка при генерации ответа. Попробуйте позже.",
		MeetingSummary:     "Консультация с {name}",
		MeetingDescription: "Автоматически запланированная встреча по запросу пользователя: {message}",
		MeetingDuration:    time.Hour,
		DateLayout:         "02.01.2006",
		TimeLayout:         "15:04",
	}
}

// Load reads path over the defaults. Fields missing from the file keep their
// default value. An empty path returns Default().
func Load(path string) (*Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("persona: %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that every reply is set and every template renders.
func (p *Persona) Validate() error {
	var errs []error
	if _, err := generation.FormatPrompt(p.SystemPrompt, "", ""); err != nil {
		errs = append(errs, fmt.Errorf("system_prompt: %w", err))
	}
	if !strings.Contains(p.Confirmation, "{link}") {
		errs = append(errs, errors.New("confirmation: must contain {link}"))
	}
	for name, v := range map[string]string{
		"confirmation":        p.Confirmation,
		"scheduling_fallback": p.SchedulingFallback,
		"apology":             p.Apology,
		"meeting_summary":     p.MeetingSummary,
		"date_layout":         p.DateLayout,
		"time_layout":         p.TimeLayout,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s: must not be empty", name))
		}
	}
	if p.MeetingDuration <= 0 {
		errs = append(errs, errors.New("meeting_duration: must be positive"))
	}
	return errors.Join(errs...)
}

// ConfirmationText renders Confirmation for a meeting at when.
func (p *Persona) ConfirmationText(when time.Time, link, name string) string {
	return strings.NewReplacer(
		"{date}", when.Format(p.DateLayout),
		"{time}", when.Format(p.TimeLayout),
		"{link}", link,
		"{name}", name,
	).Replace(p.Confirmation)
}

// Summary renders the calendar event title.
func (p *Persona) Summary(name string) string {
	return strings.NewReplacer("{name}", name).Replace(p.MeetingSummary)
}

// Description renders the calendar event body.
func (p *Persona) Description(name, message string) string {
	return strings.NewReplacer("{name}", name, "{message}", message).Replace(p.MeetingDescription)
}
