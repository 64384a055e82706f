package terminology

// Keyword and code set names referenced by the protocol checkers.
const (
	SetIllAppearing        = "ill_appearing"
	SetWellAppearing       = "well_appearing"
	SetOcularFindings      = "ocular_findings"
	SetCDiffException      = "cdiff_exception"
	SetLaxatives           = "laxatives"
	SetEnteralContrast     = "enteral_contrast"
	SetTubeFeedChange      = "tube_feed_change"
	SetGIBleed             = "gi_bleed"
	SetDiarrhea            = "diarrhea"
	SetStoolVitals         = "stool_vitals"
	SetAntibiotics         = "antibiotics"
	SetAcidSuppression     = "acid_suppression"
	SetCDiffRiskHistory    = "cdiff_risk_history"
	SetDischargeFollowUp   = "discharge_follow_up"
	SetDischargeEducation  = "discharge_education"
	SetDischargeReturn     = "discharge_return_precautions"
	SetDischargeContact    = "discharge_contact"
	CodeSetGIBleed         = "gi_bleed"
	CodeSetCDiffRisk       = "cdiff_risk_conditions"
	CodeSetHSVMaternal     = "hsv_maternal"
	ConceptCSFWBC          = "csf_wbc"
	ConceptCSFHSVPCR       = "csf_hsv_pcr"
	ConceptBloodHSVPCR     = "blood_hsv_pcr"
	ConceptALT             = "alt"
	ConceptLactate         = "lactate"
	ConceptProcalcitonin   = "procalcitonin"
	ConceptANC             = "anc"
	ConceptCRP             = "crp"
	ConceptBloodCulture    = "blood_culture"
	ConceptUrinalysis      = "urinalysis"
	ConceptCSFCulture      = "csf_culture"
	ConceptHSVSurface      = "hsv_surface_culture"
	ConceptCBC             = "cbc"
)

var empiricAntibiotics = []string{
	"ceftriaxone", "cefotaxime", "cefepime", "ceftazidime", "piperacillin", "zosyn",
	"meropenem", "vancomycin", "ampicillin", "gentamicin", "clindamycin",
}

func DefaultCatalog() Catalog {
	return Catalog{
		Concepts: map[string]Concept{
			ConceptBloodCulture: {Display: "Blood culture", SNOMED: "30088009", LOINC: []string{"600-7", "88262-1", "17928-3"}},
			ConceptLactate:      {Display: "Lactate", LOINC: []string{"2524-7", "32693-4", "2518-9", "59032-3"}, Unit: "mmol/L"},
			ConceptUrinalysis:   {Display: "Urinalysis", LOINC: []string{"24356-8", "24357-6", "5799-2", "5802-4", "20454-5"}},
			ConceptProcalcitonin: {
				Display: "Procalcitonin", LOINC: []string{"33959-8", "75241-0"}, Unit: "ng/mL",
			},
			ConceptANC:        {Display: "Absolute neutrophil count", LOINC: []string{"751-8", "753-4", "26499-4"}, Unit: "/uL"},
			ConceptCRP:        {Display: "C-reactive protein", LOINC: []string{"1988-5", "30522-7"}, Unit: "mg/dL"},
			ConceptCBC:        {Display: "CBC with differential", LOINC: []string{"58410-2", "57021-8", "57782-5", "6690-2"}},
			ConceptCSFWBC:     {Display: "CSF white cell count", LOINC: []string{"26465-5", "806-0"}, Unit: "/uL"},
			ConceptCSFCulture: {Display: "CSF culture", LOINC: []string{"606-2", "14365-1"}},
			ConceptCSFHSVPCR:  {Display: "HSV PCR, CSF", LOINC: []string{"16955-9", "49986-3", "82326-0"}},
			ConceptBloodHSVPCR: {
				Display: "HSV PCR, blood", LOINC: []string{"49987-1", "16954-2", "82327-8"},
			},
			ConceptHSVSurface: {Display: "HSV surface culture or PCR", LOINC: []string{"5845-3", "5842-0", "60460-3", "69938-9"}},
			ConceptALT:        {Display: "Alanine aminotransferase", LOINC: []string{"1742-6", "1743-4", "1744-2"}, Unit: "U/L"},
		},
		Elements: map[string]ElementMapping{
			"sepsis_blood_culture":  {Concepts: []string{ConceptBloodCulture}},
			"sepsis_lactate":        {Concepts: []string{ConceptLactate}},
			"sepsis_repeat_lactate": {Concepts: []string{ConceptLactate}},
			"sepsis_antibiotics":    {MedicationKeywords: empiricAntibiotics},
			"sepsis_fluid_bolus": {MedicationKeywords: []string{
				"sodium chloride 0.9", "normal saline", "lactated ringer", "plasma-lyte", "fluid bolus",
			}},
			"sepsis_reassessment": {
				NoteKeywords: []string{"sepsis reassessment", "perfusion reassessed", "repeat volume status", "capillary refill improved", "reassessment after fluid"},
				NoteTypes:    []string{"progress", "ed provider", "critical care"},
			},

			"fi_urinalysis":           {Concepts: []string{ConceptUrinalysis}},
			"fi_blood_culture":        {Concepts: []string{ConceptBloodCulture}},
			"fi_inflammatory_markers": {Concepts: []string{ConceptProcalcitonin, ConceptANC, ConceptCRP}},
			"fi_lp_8_21d":             {Concepts: []string{ConceptCSFWBC, ConceptCSFCulture}},
			"fi_lp_22_28d":            {Concepts: []string{ConceptCSFWBC, ConceptCSFCulture}},
			"fi_abx_8_21d":            {MedicationKeywords: []string{"ampicillin", "gentamicin", "ceftazidime", "cefepime", "ceftriaxone", "cefotaxime"}},
			"fi_abx_22_28d":           {MedicationKeywords: []string{"ceftriaxone", "cefotaxime", "ampicillin", "gentamicin", "ceftazidime"}},
			"fi_hsv_risk_assessment": {NoteKeywords: []string{
				"hsv risk", "maternal hsv", "maternal herpes", "herpes history", "genital lesions", "vesicles", "hsv pcr sent",
			}},
			"fi_admission_8_21d": {
				NoteKeywords: []string{"admit to", "admitted to", "admission h&p", "inpatient admission"},
				NoteTypes:    []string{"h&p", "admission", "progress"},
			},

			"hsv_csf_pcr":          {Concepts: []string{ConceptCSFHSVPCR}},
			"hsv_blood_pcr":        {Concepts: []string{ConceptBloodHSVPCR}},
			"hsv_surface_cultures": {Concepts: []string{ConceptHSVSurface}},
			"hsv_lfts":             {Concepts: []string{ConceptALT}},
			"hsv_acyclovir":        {MedicationKeywords: []string{"acyclovir"}},
			"hsv_id_consult": {
				NoteKeywords: []string{"infectious disease", "infectious diseases", "id consult", "peds id"},
				NoteTypes:    []string{"consult"},
			},
			"hsv_ophthalmology": {
				NoteKeywords: []string{"ophthalmology", "dilated eye exam", "ophthalmologic exam"},
			},
			"hsv_neuroimaging": {NoteKeywords: []string{"mri brain", "brain mri", "ct head", "head ct", "neuroimaging"}},

			"fn_blood_culture": {Concepts: []string{ConceptBloodCulture}},
			"fn_cbc":           {Concepts: []string{ConceptCBC, ConceptANC}},
			"fn_antibiotics":   {MedicationKeywords: []string{"cefepime", "piperacillin", "zosyn", "meropenem", "ceftazidime"}},
			"fn_lactate":       {Concepts: []string{ConceptLactate}},

			"cap_chest_imaging": {NoteKeywords: []string{"chest x-ray", "chest radiograph", "cxr", "lung ultrasound", "chest ultrasound"}},
			"cap_antibiotics":   {MedicationKeywords: []string{"amoxicillin", "ampicillin"}},
			"cap_oxygen_assessment": {NoteKeywords: []string{
				"spo2", "oxygen saturation", "pulse oximetry", "o2 sat",
			}},
		},
		Keywords: map[string][]string{
			SetIllAppearing: {
				"ill-appearing", "ill appearing", "appears toxic", "lethargic",
				"poor perfusion", "mottled", "inconsolable", "grunting", "hypotonic",
			},
			SetWellAppearing: {
				"well-appearing", "well appearing", "non-toxic", "nontoxic", "alert and active",
				"vigorous", "feeding well",
			},
			SetOcularFindings: {"conjunctivitis", "keratitis", "ocular lesion", "eye lesion", "periocular vesicle", "eye discharge"},
			SetCDiffException: {
				"cdiff testing exception", "c. diff testing approved", "id approved testing",
				"hirschsprung", "toxic megacolon", "pseudomembranous colitis",
			},
			SetLaxatives: {
				"polyethylene glycol", "miralax", "senna", "sennosides", "bisacodyl", "docusate",
				"lactulose", "magnesium citrate", "glycerin suppository", "golytely",
			},
			SetEnteralContrast: {"iohexol", "omnipaque", "barium", "diatrizoate", "gastrografin", "oral contrast"},
			SetTubeFeedChange: {
				"tube feed change", "tube feeds started", "feeds advanced", "new formula", "formula change",
				"changed formula", "started ng feeds", "started g-tube feeds",
			},
			SetGIBleed:  {"gi bleed", "gastrointestinal bleed", "hematochezia", "melena", "bloody stool", "hematemesis"},
			SetDiarrhea: {"diarrhea", "loose stool", "watery stool", "unformed stool"},
			SetStoolVitals: {
				"stool_count", "stool occurrence", "unformed stool count", "stool output",
			},
			SetAntibiotics: append([]string{
				"amoxicillin", "cefazolin", "cephalexin", "cefdinir", "azithromycin", "ciprofloxacin",
				"levofloxacin", "trimethoprim", "metronidazole",
			}, empiricAntibiotics...),
			SetAcidSuppression: {"omeprazole", "esomeprazole", "lansoprazole", "pantoprazole", "famotidine"},
			SetCDiffRiskHistory: {
				"chemotherapy", "recent hospitalization", "gastrostomy", "g-tube", "inflammatory bowel disease",
				"solid organ transplant", "stem cell transplant", "prior c. diff",
			},
			SetDischargeFollowUp:  {"follow-up in 24", "follow up within 24", "recheck tomorrow", "follow-up appointment"},
			SetDischargeEducation: {"caregiver education", "discussed with parents", "family verbalized understanding", "teach-back"},
			SetDischargeReturn:    {"return precautions", "return to ed", "return immediately if"},
			SetDischargeContact:   {"reliable phone", "able to return", "transportation available", "culture results will be called"},
		},
		CodeSets: map[string][]string{
			CodeSetGIBleed:     {"K92.0", "K92.1", "K92.2", "K62.5", "P54.1", "P54.2"},
			CodeSetCDiffRisk:   {"K50", "K51", "D80", "D81", "D82", "D83", "D84", "C", "Z94", "Z93.1", "Z92.21", "A04.7"},
			CodeSetHSVMaternal: {"O98.3", "A60", "Z20.828"},
		},
	}
}
