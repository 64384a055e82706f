package fhir

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

// resources flattens a searchset Bundle into its entry resources.
func resources(bundle map[string]interface{}) []map[string]interface{} {
	var out []map[string]interface{}
	for _, e := range extractSlice(bundle["entry"]) {
		entry := extractMap(e)
		res := extractMap(entry["resource"])
		if len(res) > 0 {
			out = append(out, res)
		}
	}
	return out
}

func nextLink(bundle map[string]interface{}) string {
	for _, l := range extractSlice(bundle["link"]) {
		link := extractMap(l)
		if getString(link["relation"]) == "next" {
			return getString(link["url"])
		}
	}
	return ""
}

func parsePatient(res map[string]interface{}) datasource.Patient {
	p := datasource.Patient{
		ID:     getString(res["id"]),
		Gender: getString(res["gender"]),
	}
	if bd, ok := parseTime(getString(res["birthDate"])); ok {
		p.BirthDate = &bd
	}
	for _, id := range extractSlice(res["identifier"]) {
		ident := extractMap(id)
		typ := extractMap(ident["type"])
		if strings.EqualFold(getString(typ["text"]), "MRN") || codingCode(typ) == "MR" {
			p.MRN = getString(ident["value"])
			break
		}
	}
	if names := extractSlice(res["name"]); len(names) > 0 {
		name := extractMap(names[0])
		if text := getString(name["text"]); text != "" {
			p.Name = text
		} else {
			var given []string
			for _, g := range extractSlice(name["given"]) {
				given = append(given, getString(g))
			}
			p.Name = strings.TrimSpace(strings.Join(given, " ") + " " + getString(name["family"]))
		}
	}
	return p
}

func parseCondition(res map[string]interface{}) datasource.Condition {
	code := extractMap(res["code"])
	recorded, ok := parseTime(getString(res["recordedDate"]))
	if !ok {
		recorded, _ = parseTime(getString(res["onsetDateTime"]))
	}
	return datasource.Condition{
		Code:           codingCode(code),
		Display:        conceptText(code),
		ClinicalStatus: codingCode(extractMap(res["clinicalStatus"])),
		EncounterID:    referenceID(res["encounter"]),
		RecordedTime:   recorded,
	}
}

func parseServiceRequest(res map[string]interface{}) datasource.Order {
	code := extractMap(res["code"])
	authored, _ := parseTime(getString(res["authoredOn"]))
	return datasource.Order{
		Code:        codingCode(code),
		Display:     conceptText(code),
		EncounterID: referenceID(res["encounter"]),
		Time:        authored,
	}
}

func parseLabObservation(res map[string]interface{}) datasource.LabResult {
	code := extractMap(res["code"])
	lab := datasource.LabResult{
		Code:        codingCode(code),
		Display:     conceptText(code),
		EncounterID: referenceID(res["encounter"]),
		Time:        observationTime(res),
	}
	if vq := extractMap(res["valueQuantity"]); len(vq) > 0 {
		if v, ok := getFloat(vq["value"]); ok {
			lab.Value = &v
		}
		lab.Unit = getString(vq["unit"])
	}
	if text := getString(res["valueString"]); text != "" {
		lab.ValueText = text
	}
	if vc := extractMap(res["valueCodeableConcept"]); len(vc) > 0 {
		lab.ValueText = conceptText(vc)
	}
	if interps := extractSlice(res["interpretation"]); len(interps) > 0 {
		lab.Interpretation = conceptText(extractMap(interps[0]))
	}
	return lab
}

func parseVitalObservation(res map[string]interface{}) (datasource.VitalSign, bool) {
	code := extractMap(res["code"])
	vq := extractMap(res["valueQuantity"])
	value, ok := getFloat(vq["value"])
	if !ok {
		return datasource.VitalSign{}, false
	}
	return datasource.VitalSign{
		Type:  strings.ToLower(conceptText(code)),
		Value: value,
		Unit:  getString(vq["unit"]),
		Time:  observationTime(res),
	}, true
}

func parseMedicationAdministration(res map[string]interface{}) datasource.MedicationAdministration {
	med := datasource.MedicationAdministration{
		Name:   conceptText(extractMap(res["medicationCodeableConcept"])),
		Status: getString(res["status"]),
	}
	if med.Name == "" {
		med.Name = getString(extractMap(res["medicationReference"])["display"])
	}
	if t, ok := parseTime(getString(res["effectiveDateTime"])); ok {
		med.Time = t
	} else if t, ok := parseTime(getString(extractMap(res["effectivePeriod"])["start"])); ok {
		med.Time = t
	}
	dosage := extractMap(res["dosage"])
	med.Route = conceptText(extractMap(dosage["route"]))
	if dose := extractMap(dosage["dose"]); len(dose) > 0 {
		if v, ok := getFloat(dose["value"]); ok {
			med.Dose = strings.TrimSpace(fmt.Sprintf("%g %s", v, getString(dose["unit"])))
		}
	}
	return med
}

func parseDocumentReference(res map[string]interface{}) datasource.Note {
	note := datasource.Note{
		ID:   getString(res["id"]),
		Type: conceptText(extractMap(res["type"])),
	}
	note.Time, _ = parseTime(getString(res["date"]))
	if authors := extractSlice(res["author"]); len(authors) > 0 {
		note.Author = getString(extractMap(authors[0])["display"])
	}
	var parts []string
	for _, c := range extractSlice(res["content"]) {
		att := extractMap(extractMap(c)["attachment"])
		if data := getString(att["data"]); data != "" {
			if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
				parts = append(parts, string(decoded))
				continue
			}
		}
		if title := getString(att["title"]); title != "" {
			parts = append(parts, title)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, getString(res["description"]))
	}
	note.Text = strings.TrimSpace(strings.Join(parts, "\n"))
	return note
}

func observationTime(res map[string]interface{}) time.Time {
	if t, ok := parseTime(getString(res["effectiveDateTime"])); ok {
		return t
	}
	t, _ := parseTime(getString(res["issued"]))
	return t
}

// codingCode returns the first coding code of a CodeableConcept.
func codingCode(concept map[string]interface{}) string {
	for _, c := range extractSlice(concept["coding"]) {
		if code := getString(extractMap(c)["code"]); code != "" {
			return code
		}
	}
	return ""
}

func codingCodes(concept map[string]interface{}) []string {
	var out []string
	for _, c := range extractSlice(concept["coding"]) {
		if code := getString(extractMap(c)["code"]); code != "" {
			out = append(out, code)
		}
	}
	return out
}

func conceptText(concept map[string]interface{}) string {
	if text := getString(concept["text"]); text != "" {
		return text
	}
	for _, c := range extractSlice(concept["coding"]) {
		if display := getString(extractMap(c)["display"]); display != "" {
			return display
		}
	}
	return codingCode(concept)
}

func referenceID(value interface{}) string {
	ref := getString(extractMap(value)["reference"])
	if ref == "" {
		return ""
	}
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

func extractPatientReference(data map[string]interface{}) string {
	if id := referenceID(data["subject"]); id != "" {
		return id
	}
	return referenceID(data["patient"])
}

func parseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func extractMap(value interface{}) map[string]interface{} {
	if m, ok := value.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func extractSlice(value interface{}) []interface{} {
	if s, ok := value.([]interface{}); ok {
		return s
	}
	return nil
}

func getString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}

func getFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}
