package notifier

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/mmeshcher/cellrent/internal/model"
)

type message struct {
	subject string
	body    *template.Template
}

var messages = map[model.EmailType]message{
	model.EmailTypeRentalExpiration: {
		subject: "Срок аренды ячейки истекает",
		body: template.Must(template.New("expiration").Parse(
			`Здравствуйте{{if .ClientName}}, {{.ClientName}}{{end}}!

Срок аренды № {{.RentalID}} заканчивается {{.EndDate}} (через {{.DaysLeft}} дн.).
Чтобы сохранить доступ к ячейке, продлите аренду до окончания срока.
`)),
	},
	model.EmailTypePaymentReminder: {
		subject: "Напоминание об оплате аренды",
		body: template.Must(template.New("reminder").Parse(
			`Здравствуйте{{if .ClientName}}, {{.ClientName}}{{end}}!

Оплаченный период аренды № {{.RentalID}} заканчивается {{.EndDate}} (через {{.DaysLeft}} дн.).
Оплатите следующий период, чтобы аренда продлилась автоматически.
`)),
	},
}

type messageData struct {
	ClientName string
	RentalID   int64
	EndDate    string
	DaysLeft   int
}

func render(typ model.EmailType, due model.DueRental, daysLeft int, loc *time.Location) (string, string, error) {
	msg, ok := messages[typ]
	if !ok {
		return "", "", fmt.Errorf("no template for %s", typ)
	}

	var buf bytes.Buffer
	err := msg.body.Execute(&buf, messageData{
		ClientName: due.ClientName,
		RentalID:   due.Rental.ID,
		EndDate:    due.Rental.EndDate.In(loc).Format("02.01.2006"),
		DaysLeft:   daysLeft,
	})
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", typ, err)
	}

	return msg.subject, buf.String(), nil
}
