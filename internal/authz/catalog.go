package authz

// Permission keys used by the application workflow and administration
// surfaces. The catalog is seeded at startup via Service.EnsureBuiltins.
const (
	PermApplicationsSubmit   = "applications.submit"
	PermApplicationsView     = "applications.view"
	PermApplicationsReview   = "applications.review"
	PermApplicationsVerify   = "applications.verify"
	PermApplicationsSchedule = "applications.schedule_interview"
	PermApplicationsApprove  = "applications.approve"
	PermApplicationsReject   = "applications.reject"
	PermApplicationsHold     = "applications.hold"
	PermApplicationsReturn   = "applications.return"
	PermApplicationsDisburse = "applications.disburse"
	PermApplicationsComplete = "applications.complete"
	PermInterviewReschedule  = "interview.reschedule"
	PermSchemesManage        = "schemes.manage"
	PermRegionsManage        = "regions.manage"
	PermRolesManage          = "roles.manage"
	PermBindingsManage       = "bindings.manage"
	PermUsersManage          = "users.manage"
	PermAuditView            = "audit.view"
)

const (
	moduleApplications = "applications"
	moduleInterviews   = "interviews"
	moduleSchemes      = "schemes"
	moduleAdmin        = "admin"
)

// BuiltinPermissions is the shipped permission catalog.
var BuiltinPermissions = []Permission{
	{Key: PermApplicationsSubmit, Module: moduleApplications, Scope: ScopeOwn, SecurityLevel: 4, Description: "Submit an application for oneself"},
	{Key: PermApplicationsView, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 4, Description: "View applications in scope"},
	{Key: PermApplicationsReview, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 3, Description: "Move applications into review"},
	{Key: PermApplicationsVerify, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 3, Description: "Order field verification"},
	{Key: PermApplicationsSchedule, Module: moduleInterviews, Scope: ScopeRegional, SecurityLevel: 3, Description: "Schedule beneficiary interviews"},
	{Key: PermApplicationsApprove, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 2, Description: "Approve applications"},
	{Key: PermApplicationsReject, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 2, Description: "Reject applications"},
	{Key: PermApplicationsHold, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 2, Description: "Place applications on hold"},
	{Key: PermApplicationsReturn, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 3, Description: "Return applications for correction"},
	{Key: PermApplicationsDisburse, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 2, Description: "Start and record disbursements"},
	{Key: PermApplicationsComplete, Module: moduleApplications, Scope: ScopeRegional, SecurityLevel: 2, Description: "Close fully disbursed applications"},
	{Key: PermInterviewReschedule, Module: moduleInterviews, Scope: ScopeRegional, SecurityLevel: 3, Description: "Reschedule interviews"},
	{Key: PermSchemesManage, Module: moduleSchemes, Scope: ScopeAll, SecurityLevel: 1, Description: "Create and publish schemes"},
	{Key: PermRegionsManage, Module: moduleAdmin, Scope: ScopeAll, SecurityLevel: 1, Description: "Maintain the region hierarchy"},
	{Key: PermRolesManage, Module: moduleAdmin, Scope: ScopeAll, SecurityLevel: 1, Description: "Create and edit roles"},
	{Key: PermBindingsManage, Module: moduleAdmin, Scope: ScopeRegional, SecurityLevel: 2, Description: "Grant and revoke role bindings"},
	{Key: PermUsersManage, Module: moduleAdmin, Scope: ScopeAll, SecurityLevel: 1, Description: "Manage staff accounts"},
	{Key: PermAuditView, Module: moduleAdmin, Scope: ScopeAll, SecurityLevel: 2, Description: "Read audit records"},
}
