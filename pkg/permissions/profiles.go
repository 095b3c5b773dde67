package permissions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PositionCode identifies a job position within an institution. Positions
// carry default permission sets; per-user customizations layer on top.
type PositionCode string

const (
	PositionAdministrator           PositionCode = "ADMINISTRATOR"
	PositionAdministrativeAssistant PositionCode = "ADMINISTRATIVE_ASSISTANT"
	PositionTechnicalManager        PositionCode = "TECHNICAL_MANAGER"
	PositionNursingCoordinator      PositionCode = "NURSING_COORDINATOR"
	PositionNurse                   PositionCode = "NURSE"
	PositionNursingTechnician       PositionCode = "NURSING_TECHNICIAN"
	PositionNursingAssistant        PositionCode = "NURSING_ASSISTANT"
	PositionDoctor                  PositionCode = "DOCTOR"
	PositionNutritionist            PositionCode = "NUTRITIONIST"
	PositionPhysiotherapist         PositionCode = "PHYSIOTHERAPIST"
	PositionPsychologist            PositionCode = "PSYCHOLOGIST"
	PositionSpeechTherapist         PositionCode = "SPEECH_THERAPIST"
	PositionSocialWorker            PositionCode = "SOCIAL_WORKER"
	PositionOccupationalTherapist   PositionCode = "OCCUPATIONAL_THERAPIST"
	PositionCaregiver               PositionCode = "CAREGIVER"
	PositionAdministrative          PositionCode = "ADMINISTRATIVE"
	PositionOther                   PositionCode = "OTHER"
)

// PositionProfile describes a position: its default role and the
// permissions users in that position inherit.
type PositionProfile struct {
	DisplayName          string       `yaml:"display_name"`
	Description          string       `yaml:"description"`
	RequiredRegistration string       `yaml:"required_registration,omitempty"`
	DefaultRole          Role         `yaml:"default_role"`
	Permissions          []Permission `yaml:"permissions"`
}

// Base permission bundles shared across positions. Profiles compose these
// and add position-specific entries.
var (
	baseViewer = []Permission{
		PermViewResidents,
		PermViewDailyRecords,
		PermViewVitalSigns,
		PermViewDocuments,
		PermViewInstitutionalEvents,
		PermViewPOPs,
		PermViewResidentSchedule,
		PermViewCareShifts,
		PermViewMessages,
	}

	baseStaff = merge(baseViewer, []Permission{
		PermCreateDailyRecords,
		PermUpdateDailyRecords,
		PermRecordVitalSigns,
		PermViewMedications,
		PermViewPrescriptions,
		PermViewClinicalProfile,
		PermViewAllergies,
		PermViewConditions,
		PermViewDietaryRestrictions,
		PermViewVaccinations,
		PermViewClinicalNotes,
		PermViewBelongings,
		PermCheckinCareShifts,
		PermSendMessages,
	})

	baseManager = merge(baseStaff, []Permission{
		PermCreateResidents,
		PermUpdateResidents,
		PermCreatePrescriptions,
		PermUpdatePrescriptions,
		PermAdministerMedications,
		PermCreateVaccinations,
		PermUpdateVaccinations,
		PermCreateClinicalNotes,
		PermUpdateClinicalNotes,
		PermCreateClinicalProfile,
		PermUpdateClinicalProfile,
		PermCreateAllergies,
		PermUpdateAllergies,
		PermCreateConditions,
		PermUpdateConditions,
		PermCreateDietaryRestrictions,
		PermUpdateDietaryRestrictions,
		PermViewBeds,
		PermManageBeds,
		PermUploadDocuments,
		PermViewUsers,
		PermViewReports,
		PermCreatePOPs,
		PermUpdatePOPs,
		PermManageResidentSchedule,
		PermCreateCareShifts,
		PermUpdateCareShifts,
		PermManageTeams,
		PermViewRDCCompliance,
		PermViewComplianceDashboard,
		PermManageBelongings,
		PermViewContracts,
		PermViewInstitutionalProfile,
	})

	baseAdmin = AllPermissions()
)

// builtinProfiles is the shipped position table. An institution may
// override entries via a YAML file, see LoadProfiles.
var builtinProfiles = map[PositionCode]PositionProfile{
	PositionAdministrator: {
		DisplayName: "Administrador(a)",
		Description: "Responsável legal e administrativo pela instituição",
		DefaultRole: RoleAdmin,
		Permissions: baseAdmin,
	},
	PositionAdministrativeAssistant: {
		DisplayName: "Assistente Administrativo",
		Description: "Apoio administrativo e documental",
		DefaultRole: RoleStaff,
		Permissions: merge(baseViewer, []Permission{
			PermUploadDocuments,
			PermViewUsers,
			PermViewContracts,
			PermCreateContracts,
			PermUpdateContracts,
			PermViewInstitutionalProfile,
			PermViewBelongings,
			PermManageBelongings,
			PermSendMessages,
		}),
	},
	PositionTechnicalManager: {
		DisplayName: "Responsável Técnico",
		Description: "Responsável técnico perante a vigilância sanitária",
		RequiredRegistration: "council",
		DefaultRole:          RoleManager,
		Permissions: merge(baseManager, []Permission{
			PermAdministerControlledMedications,
			PermUpdateMedicationAdministrations,
			PermDeletePrescriptions,
			PermPublishPOPs,
			PermManagePOPs,
			PermManageComplianceAssessment,
			PermViewSentinelEvents,
			PermViewAuditLogs,
			PermExportData,
			PermConfigureShiftSettings,
			PermManageInfrastructure,
			PermViewInstitutionalSettings,
		}),
	},
	PositionNursingCoordinator: {
		DisplayName: "Coordenador(a) de Enfermagem",
		Description: "Coordenação da equipe de enfermagem",
		RequiredRegistration: "coren",
		DefaultRole:          RoleManager,
		Permissions: merge(baseManager, []Permission{
			PermAdministerControlledMedications,
			PermUpdateMedicationAdministrations,
			PermPublishPOPs,
			PermConfigureShiftSettings,
			PermViewSentinelEvents,
		}),
	},
	PositionNurse: {
		DisplayName: "Enfermeiro(a)",
		Description: "Assistência de enfermagem de nível superior",
		RequiredRegistration: "coren",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermAdministerMedications,
			PermAdministerControlledMedications,
			PermCreateVaccinations,
			PermCreateClinicalNotes,
			PermUpdateClinicalNotes,
			PermCreateAllergies,
			PermUpdateAllergies,
			PermCreateConditions,
			PermUpdateConditions,
		}),
	},
	PositionNursingTechnician: {
		DisplayName: "Técnico(a) de Enfermagem",
		Description: "Assistência de enfermagem de nível técnico",
		RequiredRegistration: "coren",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermAdministerMedications,
			PermCreateClinicalNotes,
		}),
	},
	PositionNursingAssistant: {
		DisplayName: "Auxiliar de Enfermagem",
		Description: "Apoio à assistência de enfermagem",
		RequiredRegistration: "coren",
		DefaultRole:          RoleStaff,
		Permissions: baseStaff,
	},
	PositionDoctor: {
		DisplayName: "Médico(a)",
		Description: "Assistência médica aos residentes",
		RequiredRegistration: "crm",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreatePrescriptions,
			PermUpdatePrescriptions,
			PermDeletePrescriptions,
			PermCreateClinicalNotes,
			PermUpdateClinicalNotes,
			PermCreateClinicalProfile,
			PermUpdateClinicalProfile,
			PermCreateAllergies,
			PermUpdateAllergies,
			PermCreateConditions,
			PermUpdateConditions,
			PermViewReports,
		}),
	},
	PositionNutritionist: {
		DisplayName: "Nutricionista",
		Description: "Acompanhamento nutricional dos residentes",
		RequiredRegistration: "crn",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreateDietaryRestrictions,
			PermUpdateDietaryRestrictions,
			PermDeleteDietaryRestrictions,
			PermCreateClinicalNotes,
		}),
	},
	PositionPhysiotherapist: {
		DisplayName: "Fisioterapeuta",
		Description: "Reabilitação física dos residentes",
		RequiredRegistration: "crefito",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreateClinicalNotes,
			PermUpdateClinicalNotes,
			PermManageResidentSchedule,
		}),
	},
	PositionPsychologist: {
		DisplayName: "Psicólogo(a)",
		Description: "Acompanhamento psicológico dos residentes",
		RequiredRegistration: "crp",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreateClinicalNotes,
			PermUpdateClinicalNotes,
		}),
	},
	PositionSpeechTherapist: {
		DisplayName: "Fonoaudiólogo(a)",
		Description: "Terapia fonoaudiológica dos residentes",
		RequiredRegistration: "crfa",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreateClinicalNotes,
		}),
	},
	PositionSocialWorker: {
		DisplayName: "Assistente Social",
		Description: "Acompanhamento social e familiar",
		RequiredRegistration: "cress",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreateClinicalNotes,
			PermViewContracts,
			PermViewBelongings,
		}),
	},
	PositionOccupationalTherapist: {
		DisplayName: "Terapeuta Ocupacional",
		Description: "Terapia ocupacional e atividades",
		RequiredRegistration: "crefito",
		DefaultRole:          RoleStaff,
		Permissions: merge(baseStaff, []Permission{
			PermCreateClinicalNotes,
			PermManageResidentSchedule,
			PermCreateInstitutionalEvents,
			PermUpdateInstitutionalEvents,
		}),
	},
	PositionCaregiver: {
		DisplayName: "Cuidador(a) de Idosos",
		Description: "Cuidados diários aos residentes",
		DefaultRole: RoleStaff,
		Permissions: baseStaff,
	},
	PositionAdministrative: {
		DisplayName: "Administrativo",
		Description: "Funções administrativas gerais",
		DefaultRole: RoleViewer,
		Permissions: merge(baseViewer, []Permission{
			PermUploadDocuments,
			PermSendMessages,
		}),
	},
	PositionOther: {
		DisplayName: "Outro",
		Description: "Outras funções",
		DefaultRole: RoleViewer,
		Permissions: baseViewer,
	},
}

// ProfileTable resolves position codes to profiles. The zero value is not
// usable; construct with DefaultProfiles or LoadProfiles.
type ProfileTable struct {
	profiles map[PositionCode]PositionProfile
}

// DefaultProfiles returns the shipped position table.
func DefaultProfiles() *ProfileTable {
	return &ProfileTable{profiles: builtinProfiles}
}

// LoadProfiles returns the shipped table with entries overridden from a
// YAML file keyed by position code. Unknown codes in the file are
// rejected; positions absent from the file keep their built-in profile.
func LoadProfiles(path string) (*ProfileTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading position profiles: %w", err)
	}
	var overrides map[PositionCode]PositionProfile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing position profiles: %w", err)
	}

	merged := make(map[PositionCode]PositionProfile, len(builtinProfiles))
	for code, p := range builtinProfiles {
		merged[code] = p
	}
	for code, p := range overrides {
		if _, ok := builtinProfiles[code]; !ok {
			return nil, fmt.Errorf("position profiles: unknown position code %q", code)
		}
		for _, perm := range p.Permissions {
			if !IsKnown(perm) {
				return nil, fmt.Errorf("position profiles: unknown permission %q for %s", perm, code)
			}
		}
		merged[code] = p
	}
	return &ProfileTable{profiles: merged}, nil
}

// Profile returns the profile for a position code.
func (t *ProfileTable) Profile(code PositionCode) (PositionProfile, bool) {
	p, ok := t.profiles[code]
	return p, ok
}

// Permissions returns the default permission set for a position, or nil
// for an unknown or empty code.
func (t *ProfileTable) Permissions(code PositionCode) []Permission {
	p, ok := t.profiles[code]
	if !ok {
		return nil
	}
	out := make([]Permission, len(p.Permissions))
	copy(out, p.Permissions)
	return out
}

// DefaultRole returns the role a new user in this position starts with.
// Unknown codes fall back to viewer.
func (t *ProfileTable) DefaultRole(code PositionCode) Role {
	p, ok := t.profiles[code]
	if !ok {
		return RoleViewer
	}
	return p.DefaultRole
}

// HasPermission reports whether a position's defaults include perm.
func (t *ProfileTable) HasPermission(code PositionCode, perm Permission) bool {
	p, ok := t.profiles[code]
	if !ok {
		return false
	}
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// Codes returns all known position codes in catalogue order.
func (t *ProfileTable) Codes() []PositionCode {
	codes := []PositionCode{
		PositionAdministrator, PositionAdministrativeAssistant, PositionTechnicalManager,
		PositionNursingCoordinator, PositionNurse, PositionNursingTechnician,
		PositionNursingAssistant, PositionDoctor, PositionNutritionist,
		PositionPhysiotherapist, PositionPsychologist, PositionSpeechTherapist,
		PositionSocialWorker, PositionOccupationalTherapist, PositionCaregiver,
		PositionAdministrative, PositionOther,
	}
	out := codes[:0:0]
	for _, c := range codes {
		if _, ok := t.profiles[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// merge combines permission slices into one deduplicated slice preserving
// first-seen order.
func merge(sets ...[]Permission) []Permission {
	seen := make(map[Permission]struct{})
	var out []Permission
	for _, set := range sets {
		for _, p := range set {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
