package domain

import (
	"time"
)

// FileType is the resolved type of an uploaded file.
type FileType string

const (
	FileTypePDF    FileType = "pdf"
	FileTypeOffice FileType = "office"
	FileTypeImage  FileType = "image"
	FileTypeVideo  FileType = "video"
	FileTypeAudio  FileType = "audio"
	FileTypeText   FileType = "text"
)

// QSRCategory is the coarse equipment category of a document.
type QSRCategory string

const (
	CategoryIceCream      QSRCategory = "ice-cream"
	CategoryFryer         QSRCategory = "fryer"
	CategoryGrill         QSRCategory = "grill"
	CategoryBeverage      QSRCategory = "beverage"
	CategoryRefrigeration QSRCategory = "refrigeration"
	CategoryCleaning      QSRCategory = "cleaning"
	CategoryGeneral       QSRCategory = "general"
)

// DocumentType classifies the purpose of a manual.
type DocumentType string

const (
	DocTypeServiceManual        DocumentType = "service-manual"
	DocTypeCleaningGuide        DocumentType = "cleaning-guide"
	DocTypeSafetyProtocol       DocumentType = "safety-protocol"
	DocTypeOperationGuide       DocumentType = "operation-guide"
	DocTypeInstallationManual   DocumentType = "installation-manual"
	DocTypeTroubleshootingGuide DocumentType = "troubleshooting-guide"
	DocTypeTraining             DocumentType = "training"
	DocTypeReference            DocumentType = "reference"
)

// Document is an uploaded file and its derived metadata. Summary and
// classification are set once at ingestion and never rewritten for the
// same document id.
type Document struct {
	ID               string       `json:"id"`
	Filename         string       `json:"filename"`
	FileType         FileType     `json:"file_type"`
	BlobPath         string       `json:"blob_path"`
	SizeBytes        int64        `json:"size_bytes"`
	PageCount        int          `json:"page_count,omitempty"`
	UploadedAt       time.Time    `json:"uploaded_at"`
	ExecutiveSummary string       `json:"executive_summary,omitempty"`
	Category         QSRCategory  `json:"qsr_category"`
	DocumentType     DocumentType `json:"document_type"`
	Sections         []string     `json:"sections,omitempty"`
}

// EntityType is the closed set of extracted concept kinds.
type EntityType string

const (
	EntityEquipment   EntityType = "equipment"
	EntityProcedure   EntityType = "procedure"
	EntityStep        EntityType = "step"
	EntityComponent   EntityType = "component"
	EntityTemperature EntityType = "temperature"
	EntitySafety      EntityType = "safety"
	EntityParameter   EntityType = "parameter"
	EntityTool        EntityType = "tool"
	EntityDocument    EntityType = "document"
	EntityGeneric     EntityType = "entity"
)

// Entity is a canonical concept extracted from one or more documents.
// (CanonicalName, Type) is unique within the graph; re-extraction merges
// provenance instead of duplicating nodes.
type Entity struct {
	CanonicalName  string     `json:"canonical_name"`
	SurfaceForm    string     `json:"surface_form,omitempty"`
	Type           EntityType `json:"entity_type"`
	HierarchyLevel int        `json:"hierarchy_level"` // 1 = equipment category .. 6 = fine detail
	ParentEntity   string     `json:"parent_entity,omitempty"`
	SourceDocIDs   []string   `json:"source_document_ids,omitempty"`
	PageRefs       []int      `json:"page_references,omitempty"`
	QSRContext     string     `json:"qsr_context,omitempty"`
	Confidence     float64    `json:"confidence"`
}

// RelationType is the closed semantic edge set.
type RelationType string

const (
	RelContains         RelationType = "CONTAINS"
	RelPartOf           RelationType = "PART_OF"
	RelRequires         RelationType = "REQUIRES"
	RelProcedureFor     RelationType = "PROCEDURE_FOR"
	RelSafetyWarningFor RelationType = "SAFETY_WARNING_FOR"
	RelFollowedBy       RelationType = "FOLLOWED_BY"
	RelDocuments        RelationType = "DOCUMENTS"
	RelParameterOf      RelationType = "PARAMETER_OF"
	RelBelongsTo        RelationType = "BELONGS_TO"
	RelRelatedTo        RelationType = "RELATED_TO"
)

// Relationship is a directed typed edge between two canonical entities.
type Relationship struct {
	SourceName   string       `json:"source_name"`
	SourceType   EntityType   `json:"source_type"`
	TargetName   string       `json:"target_name"`
	TargetType   EntityType   `json:"target_type"`
	Type         RelationType `json:"type"`
	SourceDocIDs []string     `json:"source_document_ids,omitempty"`
	Confidence   float64      `json:"confidence"`
}

// Chunk is a searchable fragment of a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Content    string    `json:"content"`
	Page       int       `json:"page"`
	Offset     int       `json:"offset"`
	Vector     []float64 `json:"vector,omitempty"`
	Score      float64   `json:"score,omitempty"`
}

// CitationType discriminates the kinds of visual artifacts.
type CitationType string

const (
	CitationImage         CitationType = "image"
	CitationDiagram       CitationType = "diagram"
	CitationTable         CitationType = "table"
	CitationTextSection   CitationType = "text-section"
	CitationSafetyWarning CitationType = "safety-warning"
)

// VisualCitation is a stable reference to a visual artifact inside a
// document. ID is a pure function of (document, page, reference text);
// Content is materialized lazily.
type VisualCitation struct {
	ID         string       `json:"citation_id"`
	Type       CitationType `json:"citation_type"`
	DocumentID string       `json:"document_id"`
	Page       int          `json:"page_number"`
	RefText    string       `json:"reference_text"`
	BBox       []float64    `json:"bbox,omitempty"`
	XRef       int          `json:"xref,omitempty"`
	Content    []byte       `json:"-"`
}

// Stage is the ingestion pipeline stage recorded in a ProgressRecord.
type Stage string

const (
	StageUploaded               Stage = "uploaded"
	StageValidated              Stage = "validated"
	StageTextExtracted          Stage = "text-extracted"
	StageEntitiesExtracted      Stage = "entities-extracted"
	StageRelationshipsGenerated Stage = "relationships-generated"
	StageIndexed                Stage = "indexed"
	StageVerified               Stage = "verified"
	StageFailed                 Stage = "failed"
)

// Percent milestones per stage.
const (
	PercentUploaded               = 10
	PercentValidated              = 25
	PercentTextExtracted          = 40
	PercentEntitiesExtracted      = 60
	PercentRelationshipsGenerated = 75
	PercentIndexed                = 90
	PercentVerified               = 100
)

// ProgressRecord is the observable state of one background ingestion.
// Percent never decreases for a given process id; once Terminal is set
// the record is immutable.
type ProgressRecord struct {
	ProcessID          string    `json:"process_id"`
	DocumentID         string    `json:"document_id"`
	Stage              Stage     `json:"stage"`
	Percent            int       `json:"percent"`
	Message            string    `json:"message,omitempty"`
	EntitiesFound      int       `json:"entities_found"`
	RelationshipsFound int       `json:"relationships_found"`
	UpdatedAt          time.Time `json:"updated_at"`
	Terminal           bool      `json:"terminal"`
}

// DegradationMode is the orchestrator's operating mode.
type DegradationMode string

const (
	ModeNormal              DegradationMode = "normal"
	ModeLocalQueue          DegradationMode = "local-queue"
	ModeMemoryConstrained   DegradationMode = "memory-constrained"
	ModeSelectiveProcessing DegradationMode = "selective-processing"
)

// DocumentSummary is the structured summary produced at ingestion, either
// by the LLM or by the rule-based fallback classifier.
type DocumentSummary struct {
	Purpose              string       `json:"purpose"`
	EquipmentFocus       string       `json:"equipment_focus"`
	TargetAudience       string       `json:"target_audience"`
	DocumentType         DocumentType `json:"document_type"`
	Category             QSRCategory  `json:"qsr_category"`
	KeyProcedures        []string     `json:"key_procedures,omitempty"`
	SafetyProtocols      []string     `json:"safety_protocols,omitempty"`
	CriticalTemperatures []string     `json:"critical_temperatures,omitempty"`
	MaintenanceSchedules []string     `json:"maintenance_schedules,omitempty"`
	BrandContext         string       `json:"brand_context,omitempty"`
	ExecutiveSummary     string       `json:"executive_summary"`
	Sections             []string     `json:"hierarchical_sections,omitempty"`
}

// QueryType is the classified intent of a retrieval query.
type QueryType string

const (
	QueryEquipmentMaintenance QueryType = "equipment-maintenance"
	QuerySafetyProtocol       QueryType = "safety-protocol"
	QueryCleaningProcedure    QueryType = "cleaning-procedure"
	QueryTroubleshooting      QueryType = "troubleshooting"
	QueryGeneral              QueryType = "general"
)

// Severity grades a safety warning.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Step is one ordered instruction mined from chunk text.
type Step struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// SafetyWarning is a warning mined from chunk text.
type SafetyWarning struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

// MediaReference points a composed answer at a visual citation.
type MediaReference struct {
	CitationID string       `json:"citation_id"`
	Type       CitationType `json:"type"`
	Page       int          `json:"page"`
	RefText    string       `json:"reference_text"`
}

// ComposedResponse is the structured answer returned by the retrieval
// engine.
type ComposedResponse struct {
	TaskTitle       string           `json:"task_title"`
	Steps           []Step           `json:"steps"`
	SafetyWarnings  []SafetyWarning  `json:"safety_warnings"`
	EquipmentNeeded []string         `json:"equipment_needed"`
	EstimatedTime   string           `json:"estimated_time"`
	MediaReferences []MediaReference `json:"media_references"`
	SourceDocuments []string         `json:"source_documents"`
	Confidence      float64          `json:"confidence"`
	ProcedureType   string           `json:"procedure_type"`
	Notes           []string         `json:"notes,omitempty"`
}

// QueryRequest is a retrieval request.
type QueryRequest struct {
	Text       string `json:"text"`
	MaxResults int    `json:"max_results,omitempty"`
	Speech     bool   `json:"speech,omitempty"`
}

// SubmitResult is returned immediately by the ingestion orchestrator.
type SubmitResult struct {
	ProcessID  string `json:"process_id"`
	DocumentID string `json:"document_id"`
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
}

// Validation outcome codes.
const (
	ValidationOK             = "valid"
	ValidationInvalidType    = "invalid_type"
	ValidationInvalidSize    = "invalid_size"
	ValidationInvalidContent = "invalid_content"
	ValidationSecurityRisk   = "security_risk"
	ValidationCorrupted      = "corrupted"
)

// ValidationResult is the outcome of multi-format validation.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Code          string   `json:"code"`
	Detail        string   `json:"detail,omitempty"`
	FileType      FileType `json:"file_type,omitempty"`
	MIME          string   `json:"mime,omitempty"`
	PageCount     int      `json:"page_count,omitempty"`
	TextExtracted bool     `json:"text_extracted,omitempty"`
	LineCount     int      `json:"line_count,omitempty"`
}

// GraphStats summarizes the property graph for the status endpoint.
type GraphStats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	NodesByType map[string]int `json:"nodes_by_type,omitempty"`
	EdgesByType map[string]int `json:"edges_by_type,omitempty"`
	Documents   int            `json:"documents"`
}
