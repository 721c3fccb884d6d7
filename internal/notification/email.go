package notification

import (
	"fmt"
	"net/smtp"
)

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

type EmailService struct {
	config EmailConfig
}

func NewEmailService(config EmailConfig) *EmailService {
	return &EmailService{config: config}
}

// SendResetLinkEmail delivers the reset URL to the customer's registered
// address. The URL embeds the raw token; the message is the only place it
// ever leaves the service.
func (s *EmailService) SendResetLinkEmail(to, resetURL, vehicleLabel string) error {
	subject := "Reinicio de NIP"
	body := fmt.Sprintf(`<html><body>
		<h2>Reinicio de NIP</h2>
		<p>Recibimos una solicitud para reiniciar el NIP del vehiculo <strong>%s</strong>.</p>
		<p><a href="%s">Haz clic aqui para reiniciar tu NIP</a></p>
		<p>O copia esta liga en tu navegador: %s</p>
		<p>Esta liga expira en 30 minutos y solo puede usarse una vez.</p>
		<p>Si tu no solicitaste este reinicio, ignora este correo.</p>
	</body></html>`, vehicleLabel, resetURL, resetURL)
	return s.sendEmail(to, subject, body)
}

func (s *EmailService) sendEmail(to, subject, body string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, to, subject, body)

	auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	return smtp.SendMail(addr, auth, s.config.From, []string{to}, []byte(msg))
}
