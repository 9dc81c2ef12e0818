package notify

import (
	"bytes"
	"daypass/src/utils"
	"fmt"
	"html/template"
	"strings"
)

const displayLayout = "Mon 2 Jan 2006, 3:04 PM MST"

type Message struct {
	Subject string
	HTML    string
	Text    string
	SMS     string
}

var emailTemplate = template.Must(template.New("pin").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Your access pass for {{.AccessPoint}}</h2>
{{if .Pin}}<p>Your PIN code is <strong style="font-size:1.6em;letter-spacing:0.2em">{{.Pin}}</strong></p>
{{else}}<p>Your PIN code is not available yet. Open your pass page to see it as soon as it is issued, or contact support.</p>
{{end}}<table>
<tr><td>Valid from</td><td>{{.From}}</td></tr>
<tr><td>Valid to</td><td>{{.To}}</td></tr>
{{if .PassType}}<tr><td>Pass</td><td>{{.PassType}}</td></tr>{{end}}
{{if .Plate}}<tr><td>Vehicle</td><td>{{.Plate}}</td></tr>{{end}}
</table>
{{if .StatusURL}}<p><a href="{{.StatusURL}}">View your pass</a></p>{{end}}
{{if .Org}}<p>{{.Org}}</p>{{end}}
</body></html>`))

type view struct {
	AccessPoint string
	Pin         string
	From        string
	To          string
	PassType    string
	Plate       string
	Org         string
	StatusURL   string
}

// Render formats the notification in the site's timezone.
func Render(n Notification) (*Message, error) {
	loc := utils.LoadLocation(n.Timezone)
	d := n.Details
	v := view{
		AccessPoint: d.AccessPointName,
		Pin:         d.Pin,
		From:        d.ValidFrom.In(loc).Format(displayLayout),
		To:          d.ValidTo.In(loc).Format(displayLayout),
		PassType:    d.PassTypeName,
		Plate:       d.VehiclePlate,
		Org:         d.OrgName,
		StatusURL:   n.StatusURL,
	}
	if v.AccessPoint == "" {
		v.AccessPoint = "your access point"
	}

	var html bytes.Buffer
	if err := emailTemplate.Execute(&html, v); err != nil {
		return nil, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Your access pass for %s\n", v.AccessPoint)
	if v.Pin != "" {
		fmt.Fprintf(&text, "PIN: %s\n", v.Pin)
	} else {
		text.WriteString("PIN: not available yet\n")
	}
	fmt.Fprintf(&text, "Valid from: %s\nValid to: %s\n", v.From, v.To)
	if v.Plate != "" {
		fmt.Fprintf(&text, "Vehicle: %s\n", v.Plate)
	}
	if v.StatusURL != "" {
		fmt.Fprintf(&text, "%s\n", v.StatusURL)
	}

	sms := fmt.Sprintf("%s access PIN: %s. Valid %s to %s.", v.AccessPoint, pinOrPending(v.Pin), v.From, v.To)
	return &Message{
		Subject: fmt.Sprintf("Your access PIN for %s", v.AccessPoint),
		HTML:    html.String(),
		Text:    text.String(),
		SMS:     sms,
	}, nil
}

func pinOrPending(s string) string {
	if s == "" {
		return "pending"
	}
	return s
}
