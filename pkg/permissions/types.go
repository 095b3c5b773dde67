package permissions

import "strings"

// Permission is a granular permission identifier. Values match the rows
// stored in each tenant's user_permissions table.
type Permission string

const (
	// Residents
	PermViewResidents   Permission = "VIEW_RESIDENTS"
	PermCreateResidents Permission = "CREATE_RESIDENTS"
	PermUpdateResidents Permission = "UPDATE_RESIDENTS"
	PermDeleteResidents Permission = "DELETE_RESIDENTS"

	// Daily records
	PermViewDailyRecords   Permission = "VIEW_DAILY_RECORDS"
	PermCreateDailyRecords Permission = "CREATE_DAILY_RECORDS"
	PermUpdateDailyRecords Permission = "UPDATE_DAILY_RECORDS"
	PermDeleteDailyRecords Permission = "DELETE_DAILY_RECORDS"

	// Prescriptions
	PermViewPrescriptions   Permission = "VIEW_PRESCRIPTIONS"
	PermCreatePrescriptions Permission = "CREATE_PRESCRIPTIONS"
	PermUpdatePrescriptions Permission = "UPDATE_PRESCRIPTIONS"
	PermDeletePrescriptions Permission = "DELETE_PRESCRIPTIONS"

	// Medications
	PermViewMedications                  Permission = "VIEW_MEDICATIONS"
	PermAdministerMedications            Permission = "ADMINISTER_MEDICATIONS"
	PermAdministerControlledMedications  Permission = "ADMINISTER_CONTROLLED_MEDICATIONS"
	PermUpdateMedicationAdministrations  Permission = "UPDATE_MEDICATION_ADMINISTRATIONS"
	PermDeleteMedicationAdministrations  Permission = "DELETE_MEDICATION_ADMINISTRATIONS"

	// Vital signs
	PermViewVitalSigns   Permission = "VIEW_VITAL_SIGNS"
	PermRecordVitalSigns Permission = "RECORD_VITAL_SIGNS"

	// Vaccinations
	PermViewVaccinations   Permission = "VIEW_VACCINATIONS"
	PermCreateVaccinations Permission = "CREATE_VACCINATIONS"
	PermUpdateVaccinations Permission = "UPDATE_VACCINATIONS"
	PermDeleteVaccinations Permission = "DELETE_VACCINATIONS"

	// Clinical notes
	PermViewClinicalNotes   Permission = "VIEW_CLINICAL_NOTES"
	PermCreateClinicalNotes Permission = "CREATE_CLINICAL_NOTES"
	PermUpdateClinicalNotes Permission = "UPDATE_CLINICAL_NOTES"
	PermDeleteClinicalNotes Permission = "DELETE_CLINICAL_NOTES"

	// Clinical profile
	PermViewClinicalProfile   Permission = "VIEW_CLINICAL_PROFILE"
	PermCreateClinicalProfile Permission = "CREATE_CLINICAL_PROFILE"
	PermUpdateClinicalProfile Permission = "UPDATE_CLINICAL_PROFILE"

	// Allergies
	PermViewAllergies   Permission = "VIEW_ALLERGIES"
	PermCreateAllergies Permission = "CREATE_ALLERGIES"
	PermUpdateAllergies Permission = "UPDATE_ALLERGIES"
	PermDeleteAllergies Permission = "DELETE_ALLERGIES"

	// Chronic conditions
	PermViewConditions   Permission = "VIEW_CONDITIONS"
	PermCreateConditions Permission = "CREATE_CONDITIONS"
	PermUpdateConditions Permission = "UPDATE_CONDITIONS"
	PermDeleteConditions Permission = "DELETE_CONDITIONS"

	// Dietary restrictions
	PermViewDietaryRestrictions   Permission = "VIEW_DIETARY_RESTRICTIONS"
	PermCreateDietaryRestrictions Permission = "CREATE_DIETARY_RESTRICTIONS"
	PermUpdateDietaryRestrictions Permission = "UPDATE_DIETARY_RESTRICTIONS"
	PermDeleteDietaryRestrictions Permission = "DELETE_DIETARY_RESTRICTIONS"

	// Beds and infrastructure
	PermViewBeds             Permission = "VIEW_BEDS"
	PermManageBeds           Permission = "MANAGE_BEDS"
	PermManageInfrastructure Permission = "MANAGE_INFRASTRUCTURE"

	// Documents
	PermViewDocuments   Permission = "VIEW_DOCUMENTS"
	PermUploadDocuments Permission = "UPLOAD_DOCUMENTS"
	PermDeleteDocuments Permission = "DELETE_DOCUMENTS"

	// Users
	PermViewUsers         Permission = "VIEW_USERS"
	PermCreateUsers       Permission = "CREATE_USERS"
	PermUpdateUsers       Permission = "UPDATE_USERS"
	PermDeleteUsers       Permission = "DELETE_USERS"
	PermManagePermissions Permission = "MANAGE_PERMISSIONS"

	// Reports and auditing
	PermViewReports   Permission = "VIEW_REPORTS"
	PermExportData    Permission = "EXPORT_DATA"
	PermViewAuditLogs Permission = "VIEW_AUDIT_LOGS"

	// Institutional settings and profile
	PermViewInstitutionalSettings   Permission = "VIEW_INSTITUTIONAL_SETTINGS"
	PermUpdateInstitutionalSettings Permission = "UPDATE_INSTITUTIONAL_SETTINGS"
	PermViewInstitutionalProfile    Permission = "VIEW_INSTITUTIONAL_PROFILE"
	PermUpdateInstitutionalProfile  Permission = "UPDATE_INSTITUTIONAL_PROFILE"

	// Institutional events
	PermViewInstitutionalEvents   Permission = "VIEW_INSTITUTIONAL_EVENTS"
	PermCreateInstitutionalEvents Permission = "CREATE_INSTITUTIONAL_EVENTS"
	PermUpdateInstitutionalEvents Permission = "UPDATE_INSTITUTIONAL_EVENTS"
	PermDeleteInstitutionalEvents Permission = "DELETE_INSTITUTIONAL_EVENTS"

	// Standard operating procedures (POPs)
	PermViewPOPs    Permission = "VIEW_POPS"
	PermCreatePOPs  Permission = "CREATE_POPS"
	PermUpdatePOPs  Permission = "UPDATE_POPS"
	PermDeletePOPs  Permission = "DELETE_POPS"
	PermPublishPOPs Permission = "PUBLISH_POPS"
	PermManagePOPs  Permission = "MANAGE_POPS"

	// Resident schedule
	PermViewResidentSchedule   Permission = "VIEW_RESIDENT_SCHEDULE"
	PermManageResidentSchedule Permission = "MANAGE_RESIDENT_SCHEDULE"

	// Care shifts
	PermViewCareShifts       Permission = "VIEW_CARE_SHIFTS"
	PermCreateCareShifts     Permission = "CREATE_CARE_SHIFTS"
	PermUpdateCareShifts     Permission = "UPDATE_CARE_SHIFTS"
	PermDeleteCareShifts     Permission = "DELETE_CARE_SHIFTS"
	PermCheckinCareShifts    Permission = "CHECKIN_CARE_SHIFTS"
	PermManageTeams          Permission = "MANAGE_TEAMS"
	PermViewRDCCompliance    Permission = "VIEW_RDC_COMPLIANCE"
	PermConfigureShiftSettings Permission = "CONFIGURE_SHIFT_SETTINGS"

	// Regulatory compliance
	PermViewComplianceDashboard    Permission = "VIEW_COMPLIANCE_DASHBOARD"
	PermManageComplianceAssessment Permission = "MANAGE_COMPLIANCE_ASSESSMENT"
	PermViewSentinelEvents         Permission = "VIEW_SENTINEL_EVENTS"

	// Resident belongings
	PermViewBelongings   Permission = "VIEW_BELONGINGS"
	PermManageBelongings Permission = "MANAGE_BELONGINGS"

	// Resident contracts
	PermViewContracts    Permission = "VIEW_CONTRACTS"
	PermCreateContracts  Permission = "CREATE_CONTRACTS"
	PermUpdateContracts  Permission = "UPDATE_CONTRACTS"
	PermDeleteContracts  Permission = "DELETE_CONTRACTS"
	PermReplaceContracts Permission = "REPLACE_CONTRACTS"

	// Internal messages
	PermViewMessages      Permission = "VIEW_MESSAGES"
	PermSendMessages      Permission = "SEND_MESSAGES"
	PermDeleteMessages    Permission = "DELETE_MESSAGES"
	PermBroadcastMessages Permission = "BROADCAST_MESSAGES"
)

// allPermissions is the complete catalogue, in declaration order.
var allPermissions = []Permission{
	PermViewResidents, PermCreateResidents, PermUpdateResidents, PermDeleteResidents,
	PermViewDailyRecords, PermCreateDailyRecords, PermUpdateDailyRecords, PermDeleteDailyRecords,
	PermViewPrescriptions, PermCreatePrescriptions, PermUpdatePrescriptions, PermDeletePrescriptions,
	PermViewMedications, PermAdministerMedications, PermAdministerControlledMedications,
	PermUpdateMedicationAdministrations, PermDeleteMedicationAdministrations,
	PermViewVitalSigns, PermRecordVitalSigns,
	PermViewVaccinations, PermCreateVaccinations, PermUpdateVaccinations, PermDeleteVaccinations,
	PermViewClinicalNotes, PermCreateClinicalNotes, PermUpdateClinicalNotes, PermDeleteClinicalNotes,
	PermViewClinicalProfile, PermCreateClinicalProfile, PermUpdateClinicalProfile,
	PermViewAllergies, PermCreateAllergies, PermUpdateAllergies, PermDeleteAllergies,
	PermViewConditions, PermCreateConditions, PermUpdateConditions, PermDeleteConditions,
	PermViewDietaryRestrictions, PermCreateDietaryRestrictions, PermUpdateDietaryRestrictions, PermDeleteDietaryRestrictions,
	PermViewBeds, PermManageBeds, PermManageInfrastructure,
	PermViewDocuments, PermUploadDocuments, PermDeleteDocuments,
	PermViewUsers, PermCreateUsers, PermUpdateUsers, PermDeleteUsers, PermManagePermissions,
	PermViewReports, PermExportData, PermViewAuditLogs,
	PermViewInstitutionalSettings, PermUpdateInstitutionalSettings,
	PermViewInstitutionalProfile, PermUpdateInstitutionalProfile,
	PermViewInstitutionalEvents, PermCreateInstitutionalEvents, PermUpdateInstitutionalEvents, PermDeleteInstitutionalEvents,
	PermViewPOPs, PermCreatePOPs, PermUpdatePOPs, PermDeletePOPs, PermPublishPOPs, PermManagePOPs,
	PermViewResidentSchedule, PermManageResidentSchedule,
	PermViewCareShifts, PermCreateCareShifts, PermUpdateCareShifts, PermDeleteCareShifts,
	PermCheckinCareShifts, PermManageTeams, PermViewRDCCompliance, PermConfigureShiftSettings,
	PermViewComplianceDashboard, PermManageComplianceAssessment, PermViewSentinelEvents,
	PermViewBelongings, PermManageBelongings,
	PermViewContracts, PermCreateContracts, PermUpdateContracts, PermDeleteContracts, PermReplaceContracts,
	PermViewMessages, PermSendMessages, PermDeleteMessages, PermBroadcastMessages,
}

// AllPermissions returns the complete permission catalogue.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// catalogueIndex maps each permission to its catalogue position, used to
// produce deterministic set ordering.
var catalogueIndex = func() map[Permission]int {
	m := make(map[Permission]int, len(allPermissions))
	for i, p := range allPermissions {
		m[p] = i
	}
	return m
}()

// IsKnown reports whether p is part of the catalogue.
func IsKnown(p Permission) bool {
	_, ok := catalogueIndex[p]
	return ok
}

// Role is the coarse access role attached to a user account, distinct from
// the position code.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleViewer  Role = "viewer"
)

// IsAdminRole is the single case-insensitive admin predicate. Every call
// site goes through it so the comparison cannot drift.
func IsAdminRole(role string) bool {
	return strings.EqualFold(role, string(RoleAdmin))
}

// CustomPermission is a per-user grant or revocation overriding the
// position-derived defaults.
type CustomPermission struct {
	Permission Permission `json:"permission"`
	IsGranted  bool       `json:"is_granted"`
}

// Profile is the permission-relevant slice of a user's profile.
type Profile struct {
	ID                string             `json:"id"`
	PositionCode      PositionCode       `json:"position_code,omitempty"`
	CustomPermissions []CustomPermission `json:"custom_permissions,omitempty"`
}

// Snapshot is the unit cached per user: everything needed to compute
// effective permissions without touching the backing store. TenantID is
// empty for platform-level accounts.
type Snapshot struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id,omitempty"`
	Role     string   `json:"role"`
	Profile  *Profile `json:"profile,omitempty"`
}

// Breakdown is the audit/display view of a user's permissions.
type Breakdown struct {
	// Inherited are the defaults from the user's position profile.
	Inherited []Permission `json:"inherited"`
	// Custom are the net per-user grants (revocations removed).
	Custom []Permission `json:"custom"`
	// All is the effective set after layering.
	All []Permission `json:"all"`
}
