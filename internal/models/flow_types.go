package models

// FlowKind identifies a multi-step data-collection conversation.
type FlowKind string

const (
	FlowRegistration     FlowKind = "registration"
	FlowGroupCreation    FlowKind = "group_creation"
	FlowActivityCreation FlowKind = "activity_creation"
	FlowProfileUpdate    FlowKind = "profile_update"
)

// StateType names the input a session is waiting for.
type StateType string

// StateDone is returned by a step to complete its flow.
const StateDone StateType = ""

// Registration states.
const (
	StateRegName          StateType = "REG_NAME"
	StateRegRole          StateType = "REG_ROLE"
	StateProfileAge       StateType = "PROFILE_AGE"
	StateProfileGender    StateType = "PROFILE_GENDER"
	StateProfileContacts  StateType = "PROFILE_CONTACTS"
	StateProfileAcademic  StateType = "PROFILE_ACADEMIC"
	StateProfileProfs     StateType = "PROFILE_PROFESSIONALS"
	StateProfileInterests StateType = "PROFILE_INTERESTS"
	StateProfileTriggers  StateType = "PROFILE_TRIGGERS"
	StateProfileStyle     StateType = "PROFILE_COMMUNICATION"
)

// Group creation states.
const (
	StateGroupName  StateType = "GROUP_NAME"
	StateGroupTheme StateType = "GROUP_THEME"
	StateGroupDesc  StateType = "GROUP_DESCRIPTION"
	StateGroupMax   StateType = "GROUP_MAX_MEMBERS"
)

// Activity creation states.
const (
	StateActivityGroup    StateType = "ACTIVITY_GROUP"
	StateActivityType     StateType = "ACTIVITY_TYPE"
	StateActivityTitle    StateType = "ACTIVITY_TITLE"
	StateActivityDesc     StateType = "ACTIVITY_DESCRIPTION"
	StateActivityDuration StateType = "ACTIVITY_DURATION"
)

// Profile update states. Section edits reuse the registration profile states.
const (
	StateUpdateSection StateType = "UPDATE_SECTION"
)

// DataKey names a collected field within a session.
type DataKey string

const (
	FieldName          DataKey = "name"
	FieldRole          DataKey = "role"
	FieldAge           DataKey = "age"
	FieldGender        DataKey = "gender"
	FieldContacts      DataKey = "emergency_contacts"
	FieldAcademic      DataKey = "academic_history"
	FieldProfessionals DataKey = "professionals"
	FieldInterests     DataKey = "interests"
	FieldTriggers      DataKey = "anxiety_triggers"
	FieldStyle         DataKey = "communication_style"
	FieldGroupName     DataKey = "group_name"
	FieldTheme         DataKey = "theme"
	FieldDescription   DataKey = "description"
	FieldMaxMembers    DataKey = "max_members"
	FieldGroupID       DataKey = "group_id"
	FieldActivityType  DataKey = "activity_type"
	FieldTitle         DataKey = "title"
	FieldDuration      DataKey = "duration"
	FieldSection       DataKey = "section"
)
