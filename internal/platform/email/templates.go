package email

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const dateLayout = "2006-01-02"

var layout = template.Must(template.New("layout").Parse(`<!doctype html>
<html lang="sv"><body style="font-family:Arial,sans-serif;color:#1f2937">
<h2>{{.Heading}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .LinkURL}}<p><a href="{{.LinkURL}}">{{.LinkText}}</a></p>
{{end}}<p style="color:#6b7280;font-size:12px">Handbok.org</p>
</body></html>`))

type page struct {
	Heading    string
	Paragraphs []string
	LinkURL    string
	LinkText   string
}

func render(to []string, subject string, p page) Message {
	var buf bytes.Buffer
	// the template is static; Execute only fails on writer errors
	_ = layout.Execute(&buf, p)
	return Message{To: to, Subject: subject, HTML: buf.String()}
}

func DeletionConfirmation(to string, immediate bool, scheduledAt, cancelUntil time.Time) Message {
	if immediate {
		return render([]string{to}, "Ditt konto har raderats", page{
			Heading:    "Ditt konto har raderats",
			Paragraphs: []string{"Vi har raderat ditt konto och dina personuppgifter enligt din begäran."},
		})
	}
	return render([]string{to}, "Begäran om kontoradering mottagen", page{
		Heading: "Begäran om kontoradering mottagen",
		Paragraphs: []string{
			fmt.Sprintf("Ditt konto raderas %s.", scheduledAt.Format(dateLayout)),
			fmt.Sprintf("Du kan ångra raderingen fram till %s.", cancelUntil.Format(dateLayout)),
		},
	})
}

// DeletionWarning is sent at the 75, 85 and 89 day marks of a scheduled deletion.
func DeletionWarning(to string, daysLeft int, scheduledAt time.Time, cancelURL string) Message {
	return render([]string{to}, fmt.Sprintf("Ditt konto raderas om %d dagar", daysLeft), page{
		Heading:    "Påminnelse om kontoradering",
		Paragraphs: []string{fmt.Sprintf("Ditt konto raderas %s.", scheduledAt.Format(dateLayout))},
		LinkURL:    cancelURL,
		LinkText:   "Ångra raderingen",
	})
}

func ExportReady(to, downloadURL string, expiresAt time.Time, maxDownloads int) Message {
	return render([]string{to}, "Din dataexport är klar", page{
		Heading: "Din dataexport är klar",
		Paragraphs: []string{
			fmt.Sprintf("Länken gäller till %s och kan användas %d gånger.", expiresAt.Format(dateLayout), maxDownloads),
		},
		LinkURL:  downloadURL,
		LinkText: "Ladda ner dina data",
	})
}

func ExpiryWarning(to, handbookTitle string, daysLeft int, renewURL string) Message {
	return render([]string{to}, fmt.Sprintf("Din prenumeration för %s löper ut om %d dagar", handbookTitle, daysLeft), page{
		Heading:    "Din prenumeration löper snart ut",
		Paragraphs: []string{fmt.Sprintf("Prenumerationen för %s löper ut om %d dagar.", handbookTitle, daysLeft)},
		LinkURL:    renewURL,
		LinkText:   "Förnya prenumerationen",
	})
}

func ForumReply(to, topicTitle, authorName, preview, topicURL string) Message {
	return render([]string{to}, "Nytt svar i "+topicTitle, page{
		Heading:    fmt.Sprintf("%s svarade i %s", authorName, topicTitle),
		Paragraphs: []string{preview},
		LinkURL:    topicURL,
		LinkText:   "Visa tråden",
	})
}

func AdminAlert(to []string, title string, lines []string) Message {
	return render(to, "[Handbok.org] "+title, page{Heading: title, Paragraphs: lines})
}
