package email

import "sync"

// Email - письмо; если заданы оба тела, HTML уходит как alternative
type Email struct {
	From     string
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Provider определяет интерфейс для отправки email
type Provider interface {
	// Send отправляет простое email сообщение
	Send(email *Email) error

	// Validate проверяет конфигурацию провайдера
	Validate() error
}

// NoopProvider - email отключен (email.enabled: false)
type NoopProvider struct{}

func (NoopProvider) Send(*Email) error { return nil }
func (NoopProvider) Validate() error   { return nil }

// RecordingProvider запоминает отправленные письма (тесты)
type RecordingProvider struct {
	mu   sync.Mutex
	Sent []Email
	Err  error
}

func (p *RecordingProvider) Send(e *Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Sent = append(p.Sent, *e)
	return nil
}

func (p *RecordingProvider) Validate() error { return nil }

func (p *RecordingProvider) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}
