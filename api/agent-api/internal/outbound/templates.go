// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_outbound

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"

	internal_type "github.com/praxisvoice/api/agent-api/internal/type"
	"github.com/praxisvoice/pkg/commons"
)

// DefaultTemplates returns the built-in German message sources, keyed by
// name. Campaign-specific variants use a dotted suffix ("purpose.recall");
// lookup falls back to the bare key. Practices override individual keys
// through configuration; keys absent from the override set keep these
// defaults.
//
// Spoken templates see patient_name, patient_first_name, practice_name,
// provider_name, appointment_date, appointment_time and time_of_day.
// SMS templates ("sms.*") see first_name, practice_name, appointment_date
// and appointment_time.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"introduction":          "Guten {{ time_of_day }}, hier ist die {{ practice_name }}. Spreche ich mit {{ patient_name }}?",
		"introduction.reminder": "Guten {{ time_of_day }}, hier ist der automatische Terminservice der {{ practice_name }}. Spreche ich mit {{ patient_name }}?",
		"introduction.recall":   "Guten {{ time_of_day }}, hier ist der Vorsorge-Erinnerungsservice der {{ practice_name }}. Spreche ich mit {{ patient_name }}?",
		"introduction.no_show":  "Guten {{ time_of_day }}, hier ist die {{ practice_name }}. Ich rufe an wegen Ihres heutigen Termins. Spreche ich mit {{ patient_name }}?",

		"purpose":              "Ich rufe im Auftrag der {{ practice_name }} an.",
		"purpose.reminder":     "Ich rufe an, um Sie an Ihren Termin am {{ appointment_date }} um {{ appointment_time }} Uhr bei {{ provider_name }} zu erinnern. Können Sie diesen Termin wahrnehmen?",
		"purpose.recall":       "Wir möchten Sie darauf aufmerksam machen, dass es Zeit für Ihre nächste Vorsorgeuntersuchung ist. Dürfen wir einen Termin für Sie vereinbaren?",
		"purpose.no_show":      "Wir haben Sie heute zum Termin um {{ appointment_time }} Uhr erwartet. Ist alles in Ordnung? Können wir einen neuen Termin vereinbaren?",
		"purpose.lab_results":  "Ihre Laborergebnisse liegen vor. Bitte vereinbaren Sie einen Termin zur Besprechung.",
		"purpose.prescription": "Ihr Rezept liegt zur Abholung bereit. Sie können es während der Sprechzeiten abholen.",

		"identity_prompt": "Können Sie mir bitte Ihren Vornamen nennen, damit ich sichergehen kann, dass ich richtig verbunden bin?",
		"identity_retry":  "Entschuldigung, ich möchte sichergehen. Spreche ich mit {{ patient_name }}?",

		"reschedule_ack":     "Natürlich können wir den Termin verschieben. Wann würde es Ihnen besser passen? Vormittags oder nachmittags?",
		"offer":              "Ich kann Ihnen folgende Termine anbieten: Morgen um 10 Uhr, oder übermorgen um 14 Uhr. Welcher Termin passt Ihnen besser?",
		"offer_alternatives": "Ich schaue nach anderen Terminen. Wie wäre es mit nächster Woche? Ich hätte Montag um 9 Uhr oder Mittwoch um 15 Uhr.",
		"offer_clarify":      "Möchten Sie den vorgeschlagenen Termin annehmen, oder soll ich Ihnen andere Termine anbieten?",

		"confirm_existing": "Ihr Termin am {{ appointment_date }} um {{ appointment_time }} Uhr ist bestätigt. Ist das korrekt?",
		"confirm_new":      "Ich habe den Termin für Sie gebucht: {{ appointment_date }} um {{ appointment_time }} Uhr. Sie erhalten eine SMS-Bestätigung. Ist das korrekt?",
		"confirm_retry":    "Kein Problem. Möchten Sie einen anderen Termin?",
		"cancel_query":     "Verstanden. Möchten Sie den Termin absagen, oder sollen wir einen neuen Termin finden?",

		"main_dialog":     "Haben Sie dazu noch Fragen?",
		"transfer_notice": "Für detaillierte Fragen verbinde ich Sie gerne mit einer Mitarbeiterin. Einen Moment bitte.",

		"farewell":              "Vielen Dank für das Gespräch. Auf Wiederhören!",
		"farewell_confirmed":    "Wunderbar, Ihr Termin am {{ appointment_date }} um {{ appointment_time }} Uhr ist bestätigt. Wir freuen uns auf Sie! Auf Wiederhören.",
		"farewell_callback":     "Natürlich, kein Problem. Wir rufen Sie später noch einmal an. Auf Wiederhören!",
		"farewell_declined":     "In Ordnung, ich habe das notiert. Vielen Dank und auf Wiederhören!",
		"farewell_wrong_person": "Entschuldigen Sie bitte die Störung. Auf Wiederhören!",

		"sms":                  "{{ practice_name }}\n\nGuten Tag {{ first_name }},\nwir haben versucht, Sie telefonisch zu erreichen. Bitte rufen Sie uns zurück.\n\nIhre {{ practice_name }}",
		"sms.reminder":         "Terminerinnerung {{ practice_name }}\n\nGuten Tag {{ first_name }},\nwir erinnern Sie an Ihren Termin am {{ appointment_date }} um {{ appointment_time }} Uhr.\n\nBei Verhinderung rufen Sie uns bitte an.\nIhre {{ practice_name }}",
		"sms.reminder_undated": "Terminerinnerung {{ practice_name }}\n\nGuten Tag {{ first_name }},\nwir wollten Sie an Ihren bevorstehenden Termin erinnern. Bitte kontaktieren Sie uns bei Fragen.\n\nIhre {{ practice_name }}",
		"sms.recall":           "Gesundheitsvorsorge {{ practice_name }}\n\nGuten Tag {{ first_name }},\nes ist Zeit für Ihren nächsten Vorsorgetermin. Bitte rufen Sie uns an zur Terminvereinbarung.\n\nIhre {{ practice_name }}",
		"sms.no_show":          "Terminabsage {{ practice_name }}\n\nGuten Tag {{ first_name }},\nwir haben Sie leider bei Ihrem Termin verpasst. Bitte kontaktieren Sie uns zur Neuterminierung.\n\nIhre {{ practice_name }}",
		"sms.follow_up":        "Nachsorge {{ practice_name }}\n\nGuten Tag {{ first_name }},\nwir möchten uns nach Ihrer Behandlung erkundigen. Bitte rufen Sie uns bei Fragen an.\n\nIhre {{ practice_name }}",
	}
}

// templateSet holds the compiled message templates for one policy or
// renderer instance.
type templateSet struct {
	tpls   map[string]*pongo2.Template
	logger commons.Logger
}

func compileTemplates(overrides map[string]string, logger commons.Logger) (*templateSet, error) {
	src := DefaultTemplates()
	for name, text := range overrides {
		src[name] = text
	}
	tpls := make(map[string]*pongo2.Template, len(src))
	for name, text := range src {
		tpl, err := pongo2.FromString(text)
		if err != nil {
			return nil, fmt.Errorf("outbound: template %q: %w", name, err)
		}
		tpls[name] = tpl
	}
	if logger == nil {
		logger = commons.NewNopLogger()
	}
	return &templateSet{tpls: tpls, logger: logger}, nil
}

// render resolves name for the campaign, preferring "name.campaign" over
// the bare key, and executes it with data.
func (s *templateSet) render(name string, campaign Campaign, data pongo2.Context) string {
	tpl := s.tpls[name+"."+string(campaign)]
	if tpl == nil {
		tpl = s.tpls[name]
	}
	if tpl == nil {
		s.logger.Warnw("outbound: no template", "name", name, "campaign", campaign)
		return ""
	}
	text, err := tpl.Execute(data)
	if err != nil {
		s.logger.Warnw("outbound: template render failed", "name", name, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// SMSRenderer renders the text-message fallback the dialer sends after a
// patient could not be reached by phone.
type SMSRenderer struct {
	set      *templateSet
	practice string
}

// NewSMSRenderer compiles the SMS templates once. Overrides replace
// individual keys from DefaultTemplates.
func NewSMSRenderer(practiceName string, overrides map[string]string, logger commons.Logger) (*SMSRenderer, error) {
	set, err := compileTemplates(overrides, logger)
	if err != nil {
		return nil, err
	}
	if practiceName == "" {
		practiceName = "Praxis"
	}
	return &SMSRenderer{set: set, practice: practiceName}, nil
}

// Render builds the fallback text for one unreachable patient. Reminder
// campaigns with appointment metadata get the dated variant; campaigns
// without a dedicated template fall back to the generic text.
func (r *SMSRenderer) Render(campaign Campaign, patientName string, metadata map[string]string) string {
	firstName := "Patient"
	if fields := strings.Fields(patientName); len(fields) > 0 {
		firstName = fields[0]
	}
	date := metadata[internal_type.MetaAppointmentDate]
	timeOfDay := metadata[internal_type.MetaAppointmentTime]

	name := "sms." + string(campaign)
	if campaign == CampaignReminder && (date == "" || timeOfDay == "") {
		name = "sms.reminder_undated"
	}
	if r.set.tpls[name] == nil {
		name = "sms"
	}
	return r.set.render(name, "", pongo2.Context{
		"first_name":       firstName,
		"practice_name":    r.practice,
		"appointment_date": date,
		"appointment_time": timeOfDay,
	})
}
