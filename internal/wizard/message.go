package wizard

import (
	"bytes"
	"fmt"
	"html"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
)

// MessageTimeLayout renders timestamps the way vi-VN locales print them.
const MessageTimeLayout = "15:04:05 02/01/2006"

// TestMessage is sent by the admin notifier check.
const TestMessage = "🤖 Test message từ website hẹn hò!\n\nBot đã hoạt động thành công! 🎉"

const submissionHeader = "🌸 <b>THÔNG TIN HẸN HÒ MỚI</b> 🌸"

// IsSubmission reports whether text was produced by FormatSubmission.
func IsSubmission(text string) bool {
	return strings.HasPrefix(text, submissionHeader)
}

var messageFuncs = template.FuncMap{
	"esc": html.EscapeString,
	"inc": func(i int) int { return i + 1 },
}

var submissionTemplate = template.Must(template.New("submission").Funcs(messageFuncs).Parse(
	submissionHeader + `

🔍 <b>THÔNG TIN TRACKING:</b>
• User ID: <code>{{esc .UserID}}</code>
• IP Address: <code>{{esc .IP}}</code>
{{if .Geo}}• Vị trí: {{esc .Geo}}
{{end}}• Device: {{esc .Device}}
• Session: {{.Session}}
• Thời gian: {{.Time}}
{{if .Interactions}}• Tương tác: {{esc .Interactions}}
{{end}}{{if .PreviousSession}}• Thời gian session trước: {{.PreviousSession}}
{{end}}• User Agent: <code>{{esc .UserAgent}}...</code>

{{with .Info}}👤 <b>THÔNG TIN CÁ NHÂN:</b>
• Tên: {{esc .Name}}
{{if .Phone}}• Số điện thoại: {{esc .Phone}}
{{end}}{{if .Email}}• Email: {{esc .Email}}
{{end}}{{if .Address}}• Địa chỉ đón: {{esc .Address}}
{{end}}{{if .Note}}• Ghi chú: {{esc .Note}}
{{end}}
{{end}}{{if .Location}}📍 <b>ĐỊA ĐIỂM MUỐN ĐI:</b>
• {{esc .Location}}
{{if .LocationDetail}}  🏷️ <i>Địa điểm cụ thể: {{esc .LocationDetail}}</i>
{{end}}
{{end}}{{if .Foods}}🍽️ <b>ĐỒ ĂN YÊU THÍCH:</b>
{{range .Foods}}• {{esc .}}
{{end}}
{{end}}{{if .Drinks}}🥤 <b>ĐỒ UỐNG YÊU THÍCH:</b>
{{range .Drinks}}• {{esc .}}
{{end}}
{{end}}{{if .Dates}}📅 <b>THỜI GIAN CÓ THỂ HẸN:</b>
{{range $i, $d := .Dates}}• Lựa chọn {{inc $i}}: {{esc $d.Date}} lúc {{esc $d.Time}}
{{end}}
{{end}}⏰ <b>Thời gian gửi:</b> {{.Time}}{{if .Page}}
🌐 <b>Từ website:</b> {{esc .Page}}{{end}}`))

var locationTemplate = template.Must(template.New("location").Funcs(messageFuncs).Parse(
	`💕 <b>THÔNG TIN HẸN HÒ</b> 💕

🎯 Loại địa điểm: {{esc .Location}}
{{if .Detail}}📍 Địa điểm cụ thể: {{esc .Detail}}
{{end}}⏰ Thời gian chọn: {{.Time}}

💖 Ai đó đã chọn địa điểm hẹn hò rồi nè! 💖`))

var visitorTemplate = template.Must(template.New("visitor").Funcs(messageFuncs).Parse(
	`🔍 <b>VISITOR TRACKING</b> 🔍

• User ID: <code>{{esc .UserID}}</code>
• IP Address: <code>{{esc .Meta.IP}}</code>
{{if .Meta.Geo}}• Location: {{esc .Meta.Geo}}
{{end}}• Device: {{esc .Meta.Device.Kind}}
• Browser: {{esc .Meta.Device.Browser}}
• OS: {{esc .Meta.Device.OS}}
• Session: {{if .Meta.NewSession}}New{{else}}Returning{{end}}
• Visit Time: {{.Time}}
• Page: {{if .Meta.PageURL}}{{esc .Meta.PageURL}}{{else}}Unknown{{end}}
• Referrer: {{if .Meta.Referrer}}{{esc .Meta.Referrer}}{{else}}Direct{{end}}
• User Agent: <code>{{esc .UserAgent}}...</code>`))

// MessageContext is everything the submission message is built from.
type MessageContext struct {
	State        State
	Meta         clientinfo.Metadata
	Interactions map[string]int
	// PreviousSession is the length of the visitor's last session, zero when unknown.
	PreviousSession time.Duration
	Now             time.Time
}

type submissionView struct {
	UserID          string
	IP              string
	Geo             string
	Device          string
	Session         string
	Time            string
	Interactions    string
	PreviousSession string
	UserAgent       string
	Info            *PersonalInfo
	Location        string
	LocationDetail  string
	Foods           []string
	Drinks          []string
	Dates           []DateOption
	Page            string
}

// FormatSubmission renders the final HTML message. All user text is escaped.
func FormatSubmission(mc MessageContext) (string, error) {
	s := mc.State
	view := submissionView{
		UserID:       s.UserID,
		IP:           orUnknown(mc.Meta.IP),
		Geo:          mc.Meta.Geo,
		Device:       fmt.Sprintf("%s | %s | %s", orUnknown(mc.Meta.Device.Kind), orUnknown(mc.Meta.Device.Browser), orUnknown(mc.Meta.Device.OS)),
		Session:      "Cũ",
		Time:         mc.Now.Format(MessageTimeLayout),
		Interactions: summarizeInteractions(mc.Interactions),
		UserAgent:    mc.Meta.UserAgentPreview(),
		Info:         s.PersonalInfo,
		Page:         mc.Meta.PageURL,
	}
	if mc.Meta.NewSession {
		view.Session = "Mới"
	}
	if mc.PreviousSession > 0 {
		view.PreviousSession = fmt.Sprintf("%ds", int(mc.PreviousSession.Round(time.Second).Seconds()))
	}
	if view.UserAgent == "" {
		view.UserAgent = clientinfo.Unknown
	}
	if s.SelectedLocation != "" {
		view.Location = s.SelectedLocation.Label()
		view.LocationDetail = s.LocationDetail[s.SelectedLocation]
	}
	for _, t := range s.SelectedFoods {
		view.Foods = append(view.Foods, tagLabel(foodOptions, t))
	}
	for _, t := range s.SelectedDrinks {
		view.Drinks = append(view.Drinks, tagLabel(drinkOptions, t))
	}
	for _, o := range s.DateOptions {
		if o.complete() {
			view.Dates = append(view.Dates, o)
		}
	}
	return render(submissionTemplate, view)
}

// FormatLocationNotice renders the short message sent when a location is confirmed.
func FormatLocationNotice(location LocationTag, detail string, at time.Time) (string, error) {
	return render(locationTemplate, map[string]string{
		"Location": location.Label(),
		"Detail":   detail,
		"Time":     at.Format(MessageTimeLayout),
	})
}

// FormatVisitor renders the new-visitor notice.
func FormatVisitor(userID string, meta clientinfo.Metadata, at time.Time) (string, error) {
	return render(visitorTemplate, struct {
		UserID    string
		Meta      clientinfo.Metadata
		Time      string
		UserAgent string
	}{
		UserID:    userID,
		Meta:      meta,
		Time:      at.Format(MessageTimeLayout),
		UserAgent: meta.UserAgentPreview(),
	})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("wizard: render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// summarizeInteractions renders "action(count)" pairs sorted by action.
func summarizeInteractions(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, fmt.Sprintf("%s(%d)", a, counts[a]))
	}
	return strings.Join(parts, ", ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return clientinfo.Unknown
	}
	return s
}
