package bundles

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Bundles []Definition `yaml:"bundles" json:"bundles"`
}

// Load reads a YAML bundle catalog. An empty path yields the built-in catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Catalog{}, fmt.Errorf("read bundle catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse bundle catalog: %w", err)
	}
	if len(cat.Bundles) == 0 {
		return Catalog{}, fmt.Errorf("bundle catalog empty")
	}
	return cat, nil
}

func DefaultCatalog() Catalog {
	return Catalog{Bundles: []Definition{
		sepsisBundle(),
		febrileInfantBundle(),
		neonatalHSVBundle(),
		cdiffTestingBundle(),
		febrileNeutropeniaBundle(),
		communityPneumoniaBundle(),
	}}
}

func sepsisBundle() Definition {
	return Definition{
		ID:          "sepsis_peds_2024",
		Name:        "Pediatric Sepsis Bundle",
		Version:     "2024.1",
		Description: "Time-critical interventions for suspected sepsis and septic shock in children",
		Triggers: []TriggerCriteria{
			{
				Kind:         TriggerDiagnosis,
				CodePrefixes: []string{"A40", "A41", "R65.2", "P36"},
				Description:  "Sepsis, severe sepsis or neonatal sepsis diagnosis",
				MaxAgeDays:   days(6574),
			},
		},
		Elements: []Element{
			{ID: "sepsis_blood_culture", Name: "Blood culture obtained", Description: "Blood culture collected before or within 3 hours of recognition", Required: true, WindowHours: hours(3), EvidenceSource: "lab", Checker: KindLab},
			{ID: "sepsis_lactate", Name: "Initial lactate measured", Description: "Serum or blood lactate resulted within 3 hours", Required: true, WindowHours: hours(3), EvidenceSource: "lab", Checker: KindLab},
			{ID: "sepsis_antibiotics", Name: "Broad-spectrum antibiotics", Description: "Empiric broad-spectrum antibiotics administered within 1 hour", Required: true, WindowHours: hours(1), EvidenceSource: "medication", Checker: KindMedication},
			{ID: "sepsis_fluid_bolus", Name: "Fluid bolus", Description: "Isotonic crystalloid bolus for hypotension or hypoperfusion", Required: false, WindowHours: hours(1), EvidenceSource: "medication", Checker: KindMedication},
			{ID: "sepsis_repeat_lactate", Name: "Repeat lactate", Description: "Lactate repeated within 6 hours when the initial value exceeded 2 mmol/L", Required: true, WindowHours: hours(6), EvidenceSource: "lab", Checker: KindLab},
			{ID: "sepsis_reassessment", Name: "Reassessment documented", Description: "Volume status and tissue perfusion reassessment documented", Required: true, WindowHours: hours(6), EvidenceSource: "note", Checker: KindNote},
		},
		References: []string{
			"Weiss SL, et al. Surviving Sepsis Campaign International Guidelines for the Management of Septic Shock and Sepsis-Associated Organ Dysfunction in Children. Pediatr Crit Care Med. 2020;21(2):e52-e106.",
			"CMS SEP-1 Severe Sepsis/Septic Shock Management Bundle, specifications manual v5.15.",
		},
	}
}

func febrileInfantBundle() Definition {
	return Definition{
		ID:          "febrile_infant_2024",
		Name:        "Well-Appearing Febrile Infant 8-60 Days",
		Version:     "2024.1",
		Description: "Age-stratified evaluation and management of febrile infants 8 to 60 days old",
		Triggers: []TriggerCriteria{
			{
				Kind:         TriggerDiagnosis,
				CodePrefixes: []string{"R50", "P81.9"},
				Description:  "Fever in an infant 8 to 60 days old",
				MinAgeDays:   days(8),
				MaxAgeDays:   days(60),
			},
		},
		Elements: []Element{
			{ID: "fi_urinalysis", Name: "Urinalysis obtained", Description: "Urinalysis for all febrile infants", Required: true, WindowHours: hours(4), EvidenceSource: "lab", Checker: KindFebrileInfant},
			{ID: "fi_blood_culture", Name: "Blood culture obtained", Description: "Blood culture for all febrile infants", Required: true, WindowHours: hours(4), EvidenceSource: "lab", Checker: KindFebrileInfant},
			{ID: "fi_inflammatory_markers", Name: "Inflammatory markers obtained", Description: "Procalcitonin, ANC or CRP resulted", Required: true, WindowHours: hours(4), EvidenceSource: "lab", Checker: KindFebrileInfant},
			{ID: "fi_lp_8_21d", Name: "Lumbar puncture (8-21 days)", Description: "CSF studies for all infants 8 to 21 days old", Required: true, WindowHours: hours(24), EvidenceSource: "lab", Checker: KindFebrileInfant},
			{ID: "fi_lp_22_28d", Name: "Lumbar puncture (22-28 days, markers abnormal)", Description: "CSF studies for infants 22 to 28 days old with abnormal inflammatory markers", Required: true, WindowHours: hours(24), EvidenceSource: "lab", Checker: KindFebrileInfant},
			{ID: "fi_abx_8_21d", Name: "Parenteral antibiotics (8-21 days)", Description: "Empiric parenteral antibiotics for all infants 8 to 21 days old", Required: true, WindowHours: hours(4), EvidenceSource: "medication", Checker: KindFebrileInfant},
			{ID: "fi_abx_22_28d", Name: "Parenteral antibiotics (22-28 days, markers abnormal)", Description: "Empiric parenteral antibiotics for infants 22 to 28 days old with abnormal inflammatory markers", Required: true, WindowHours: hours(4), EvidenceSource: "medication", Checker: KindFebrileInfant},
			{ID: "fi_hsv_risk_assessment", Name: "HSV risk assessment", Description: "HSV risk factors assessed for infants up to 28 days old", Required: true, WindowHours: hours(24), EvidenceSource: "note", Checker: KindFebrileInfant},
			{ID: "fi_admission_8_21d", Name: "Hospital admission (8-21 days)", Description: "Admission for all infants 8 to 21 days old", Required: true, WindowHours: hours(24), EvidenceSource: "note", Checker: KindFebrileInfant},
			{ID: "fi_safe_discharge_29_60d", Name: "Safe discharge checklist (29-60 days, low risk)", Description: "Follow-up, caregiver teaching and return precautions documented for low-risk infants discharged home", Required: false, WindowHours: hours(72), EvidenceSource: "note", Checker: KindFebrileInfant},
		},
		References: []string{
			"Pantell RH, et al. Evaluation and Management of Well-Appearing Febrile Infants 8 to 60 Days Old. Pediatrics. 2021;148(2):e2021052228.",
		},
	}
}

func neonatalHSVBundle() Definition {
	return Definition{
		ID:          "neonatal_hsv_2024",
		Name:        "Neonatal HSV Evaluation and Treatment",
		Version:     "2024.1",
		Description: "Diagnostic evaluation and acyclovir therapy for suspected neonatal herpes simplex virus infection",
		Triggers: []TriggerCriteria{
			{
				Kind:         TriggerDiagnosis,
				CodePrefixes: []string{"P35.2", "B00"},
				Description:  "Neonatal or congenital herpes simplex diagnosis",
				MaxAgeDays:   days(28),
			},
			{
				Kind:         TriggerOrder,
				CodePrefixes: []string{"16955-9", "16954-2"},
				Description:  "HSV PCR ordered in a neonate",
				MaxAgeDays:   days(28),
			},
		},
		Elements: []Element{
			{ID: "hsv_csf_pcr", Name: "CSF HSV PCR", Description: "HSV PCR sent on cerebrospinal fluid", Required: true, WindowHours: hours(24), EvidenceSource: "lab", Checker: KindNeonatalHSV},
			{ID: "hsv_blood_pcr", Name: "Blood HSV PCR", Description: "HSV PCR sent on whole blood or plasma", Required: true, WindowHours: hours(24), EvidenceSource: "lab", Checker: KindNeonatalHSV},
			{ID: "hsv_surface_cultures", Name: "Surface cultures", Description: "Conjunctival, nasopharyngeal, oral and rectal surface swabs", Required: true, WindowHours: hours(24), EvidenceSource: "lab", Checker: KindNeonatalHSV},
			{ID: "hsv_lfts", Name: "Liver function tests", Description: "ALT resulted to screen for disseminated disease", Required: true, WindowHours: hours(24), EvidenceSource: "lab", Checker: KindNeonatalHSV},
			{ID: "hsv_acyclovir", Name: "Empiric acyclovir", Description: "IV acyclovir 60 mg/kg/day started within 1 hour", Required: true, WindowHours: hours(1), EvidenceSource: "medication", Checker: KindNeonatalHSV},
			{ID: "hsv_id_consult", Name: "Infectious diseases consult", Description: "Pediatric infectious diseases consultation documented", Required: true, WindowHours: hours(24), EvidenceSource: "consult", Checker: KindNeonatalHSV},
			{ID: "hsv_ophthalmology", Name: "Ophthalmology consult", Description: "Ophthalmology examination when ocular involvement is documented", Required: true, WindowHours: hours(48), EvidenceSource: "consult", Checker: KindNeonatalHSV},
			{ID: "hsv_neuroimaging", Name: "Neuroimaging", Description: "Brain MRI or CT for CNS or disseminated disease", Required: true, WindowHours: hours(48), EvidenceSource: "note", Checker: KindNeonatalHSV},
			{ID: "hsv_treatment_duration", Name: "Treatment duration", Description: "Acyclovir duration of 14 days for SEM disease and 21 days for CNS or disseminated disease", Required: true, WindowHours: hours(72), EvidenceSource: "protocol", Checker: KindNeonatalHSV},
		},
		References: []string{
			"American Academy of Pediatrics. Herpes Simplex. In: Red Book: 2024-2027 Report of the Committee on Infectious Diseases.",
			"Kimberlin DW, et al. Guidance on management of asymptomatic neonates born to women with active genital herpes lesions. Pediatrics. 2013;131(2):e635-46.",
		},
	}
}

func cdiffTestingBundle() Definition {
	return Definition{
		ID:          "cdiff_testing_2024",
		Name:        "C. difficile Testing Appropriateness",
		Version:     "2024.1",
		Description: "Diagnostic stewardship criteria for Clostridioides difficile testing orders",
		Triggers: []TriggerCriteria{
			{
				Kind:         TriggerOrder,
				CodePrefixes: []string{"34713-8", "54067-4", "80685-5"},
				Description:  "C. difficile toxin or PCR test ordered",
			},
		},
		Elements: []Element{
			{ID: "cdiff_age", Name: "Age 3 years or older", Description: "Testing is not recommended under 3 years of age without a documented exception", Required: true, WindowHours: hours(24), EvidenceSource: "protocol", Checker: KindCDiffTesting},
			{ID: "cdiff_stool_frequency", Name: "Three or more loose stools", Description: "At least 3 unformed stools in 24 hours", Required: true, WindowHours: hours(24), EvidenceSource: "note", Checker: KindCDiffTesting},
			{ID: "cdiff_no_laxatives", Name: "No recent laxatives", Description: "No laxative administration in the 48 hours before testing", Required: true, WindowHours: hours(24), EvidenceSource: "medication", Checker: KindCDiffTesting},
			{ID: "cdiff_no_contrast", Name: "No recent enteral contrast", Description: "No oral or rectal contrast in the 48 hours before testing", Required: true, WindowHours: hours(24), EvidenceSource: "medication", Checker: KindCDiffTesting},
			{ID: "cdiff_no_tube_feed_change", Name: "No recent tube feed change", Description: "No enteral feed initiation or formula change in the 48 hours before testing", Required: true, WindowHours: hours(24), EvidenceSource: "note", Checker: KindCDiffTesting},
			{ID: "cdiff_no_gi_bleed", Name: "No active GI bleed", Description: "No active gastrointestinal bleeding", Required: true, WindowHours: hours(24), EvidenceSource: "note", Checker: KindCDiffTesting},
			{ID: "cdiff_risk_factor", Name: "Risk factor present", Description: "Recent antibiotics, acid suppression, hospitalization or an underlying high-risk condition", Required: true, WindowHours: hours(24), EvidenceSource: "protocol", Checker: KindCDiffTesting},
			{ID: "cdiff_symptom_duration", Name: "Symptom duration (low risk)", Description: "Diarrhea persisting at least 48 hours for patients without risk factors", Required: true, WindowHours: hours(24), EvidenceSource: "note", Checker: KindCDiffTesting},
		},
		References: []string{
			"McDonald LC, et al. Clinical Practice Guidelines for Clostridium difficile Infection in Adults and Children: 2017 Update by IDSA and SHEA. Clin Infect Dis. 2018;66(7):e1-e48.",
		},
	}
}

func febrileNeutropeniaBundle() Definition {
	return Definition{
		ID:          "febrile_neutropenia_2024",
		Name:        "Pediatric Febrile Neutropenia",
		Version:     "2024.1",
		Description: "Initial evaluation and empiric therapy for fever with neutropenia",
		Triggers: []TriggerCriteria{
			{
				Kind:         TriggerDiagnosis,
				CodePrefixes: []string{"D70", "R50.81"},
				Description:  "Neutropenic fever",
			},
		},
		Elements: []Element{
			{ID: "fn_blood_culture", Name: "Blood culture obtained", Description: "Blood cultures from all central line lumens", Required: true, WindowHours: hours(1), EvidenceSource: "lab", Checker: KindLab},
			{ID: "fn_cbc", Name: "CBC with differential", Description: "Complete blood count resulted", Required: true, WindowHours: hours(1), EvidenceSource: "lab", Checker: KindLab},
			{ID: "fn_antibiotics", Name: "Anti-pseudomonal beta-lactam", Description: "Empiric anti-pseudomonal beta-lactam administered within 1 hour", Required: true, WindowHours: hours(1), EvidenceSource: "medication", Checker: KindMedication},
			{ID: "fn_lactate", Name: "Lactate measured", Description: "Lactate resulted when hemodynamic instability is suspected", Required: false, WindowHours: hours(3), EvidenceSource: "lab", Checker: KindLab},
		},
		References: []string{
			"Lehrnbecher T, et al. Guideline for the Management of Fever and Neutropenia in Pediatric Patients With Cancer and Hematopoietic Cell Transplantation Recipients: 2023 Update. J Clin Oncol. 2023;41(9):1774-1785.",
		},
	}
}

func communityPneumoniaBundle() Definition {
	return Definition{
		ID:          "cap_peds_2024",
		Name:        "Pediatric Community-Acquired Pneumonia",
		Version:     "2024.1",
		Description: "Evaluation and first-line therapy for community-acquired pneumonia in children older than 3 months",
		Triggers: []TriggerCriteria{
			{
				Kind:         TriggerDiagnosis,
				CodePrefixes: []string{"J13", "J15", "J18"},
				Description:  "Community-acquired pneumonia diagnosis",
				MinAgeDays:   days(90),
				MaxAgeDays:   days(6574),
			},
		},
		Elements: []Element{
			{ID: "cap_chest_imaging", Name: "Chest imaging", Description: "Chest radiograph or lung ultrasound documented", Required: false, WindowHours: hours(24), EvidenceSource: "note", Checker: KindNote},
			{ID: "cap_antibiotics", Name: "First-line antibiotics", Description: "Amoxicillin or ampicillin as first-line therapy within 4 hours", Required: true, WindowHours: hours(4), EvidenceSource: "medication", Checker: KindMedication},
			{ID: "cap_oxygen_assessment", Name: "Oxygen saturation documented", Description: "Pulse oximetry documented at presentation", Required: true, WindowHours: hours(4), EvidenceSource: "note", Checker: KindNote},
		},
		References: []string{
			"Bradley JS, et al. The Management of Community-Acquired Pneumonia in Infants and Children Older Than 3 Months of Age. Clin Infect Dis. 2011;53(7):e25-76.",
		},
	}
}
