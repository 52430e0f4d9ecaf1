package letter

import (
	"disputeflow/directory"
)

// Template is a subject and body with {token} placeholders. Bodies are
// wrapped in the shared header and closing at render time.
type Template struct {
	Subject string
	Body    string
}

// Tokens is the fixed variable set templates may reference.
var Tokens = []string{
	"date", "consumer_name", "consumer_address", "masked_ssn", "date_of_birth",
	"recipient_name", "recipient_address", "bureau_name", "creditor_name",
	"masked_account", "item_type", "balance", "opened_date", "reported_date",
	"payment_status", "strategy_name", "legal_basis", "citations",
	"prior_dispute_date", "prior_outcome", "prior_strategy", "response_deadline",
	"jurisdiction", "limitation_years",
}

const header = `{date}

{consumer_name}
{consumer_address}
SSN: {masked_ssn}
Date of birth: {date_of_birth}

{recipient_name}
{recipient_address}

Re: {creditor_name}, account {masked_account}

To whom it may concern:

`

const closing = `

This letter is sent under {legal_basis} ({citations}). Please respond in writing by {response_deadline}.

Sincerely,

{consumer_name}
`

const bureauReinvestigationBody = `I am writing to dispute the {item_type} reported by {creditor_name} under account {masked_account}, reported on {reported_date} with status "{payment_status}". The information is inaccurate and I request that you conduct a reasonable reinvestigation, forward all relevant information to the furnisher, and delete or correct the entry.

Please send me written results of your reinvestigation and an updated copy of my credit report.`

var templates = map[string]Template{
	"factual_dispute": {
		Subject: "Dispute of inaccurate information: {creditor_name} {masked_account}",
		Body:    bureauReinvestigationBody,
	},
	"debt_validation": {
		Subject: "Request for validation of debt: account {masked_account}",
		Body: `I received notice that {creditor_name} claims I owe {balance} on account {masked_account}. I dispute this debt and request validation. Please provide the name and address of the original creditor, the itemized amount claimed, a copy of the agreement bearing my signature, and proof that you are licensed and authorized to collect this debt.

Until the debt is validated, cease collection activity and do not report it, or continue to report it, to any consumer reporting agency.`,
	},
	"method_of_verification": {
		Subject: "Request for method of verification: {creditor_name} {masked_account}",
		Body: `On {prior_dispute_date} I disputed the {item_type} reported by {creditor_name} under account {masked_account}. Your response stated the information was {prior_outcome}. I request a description of the procedure used to determine its accuracy, including the business name, address and telephone number of every furnisher you contacted.

If you cannot provide the method of verification, delete the entry.`,
	},
	"estoppel_by_silence": {
		Subject: "Failure to reinvestigate within the statutory period: {masked_account}",
		Body: `On {prior_dispute_date} I disputed the {item_type} reported by {creditor_name} under account {masked_account}. The statutory period to complete a reinvestigation has passed and I have received no response ({prior_outcome}).

Information that is not reinvestigated within the required period must be deleted. Please delete this entry promptly and confirm the deletion in writing.`,
	},
	"obsolete_item_removal": {
		Subject: "Removal of obsolete information: {creditor_name} {masked_account}",
		Body: `Your file lists a {item_type} from {creditor_name} under account {masked_account}, opened on {opened_date}. This information is older than the maximum reporting period and may no longer appear on my consumer report.

Please delete the obsolete entry and send me an updated copy of my report.`,
	},
	"unauthorized_inquiry": {
		Subject: "Unauthorized inquiry by {creditor_name}",
		Body: `My report shows an inquiry by {creditor_name} dated {reported_date}. I did not authorize this inquiry and did not initiate any transaction with {creditor_name}. A report may only be furnished for a permissible purpose.

Please provide evidence of the permissible purpose or remove the inquiry.`,
	},
	"statute_of_limitations": {
		Subject: "Time-barred debt: account {masked_account}",
		Body: `You are attempting to collect a debt of {balance} on account {masked_account} originally with {creditor_name}. The last activity on this account was on {opened_date}, which is beyond the {limitation_years}-year limitation period in {jurisdiction}.

Any suit on this debt would be barred. Do not threaten or bring legal action, and confirm in writing that you will not report this debt as collectible.`,
	},
	"bankruptcy_court_verification": {
		Subject: "Challenge to verification of public record from {creditor_name}",
		Body: `Your file lists a public record reported on {reported_date} as furnished by {creditor_name}, reference {masked_account}. Courts do not furnish information to consumer reporting agencies or verify it on request.

Please identify the source you used to verify this record and how it was contacted. If the record was verified through a third party rather than the court, delete it.`,
	},
	"incomplete_information": {
		Subject: "Incomplete reporting: {creditor_name} {masked_account}",
		Body: `The {item_type} reported by {creditor_name} under account {masked_account} omits information required for accurate reporting, including the date opened ({opened_date}) and date reported ({reported_date}).

Incomplete information is not accurate information. Please reinvestigate and delete the entry unless the furnisher supplies complete and verifiable data.`,
	},
	"identity_theft_block": {
		Subject: "Identity theft block request: {creditor_name} {masked_account}",
		Body: `The {item_type} reported by {creditor_name} under account {masked_account} results from identity theft. I did not open this account or authorize the transactions on it. An identity theft report and proof of my identity are enclosed.

Please block this information from my file within four business days and notify the furnisher of the block.`,
	},
	"furnisher_direct_dispute": {
		Subject: "Direct dispute of reported information: account {masked_account}",
		Body: `You report account {masked_account} to {bureau_name} with status "{payment_status}". I previously disputed this entry with the bureau on {prior_dispute_date} and the result was {prior_outcome}. The information remains inaccurate.

Please conduct an investigation, review the information I have provided, and report the results. If the information cannot be verified, instruct every bureau you report to to delete it.`,
	},
	"procedural_request": {
		Subject: "Request for reinvestigation procedure: {masked_account}",
		Body: `Following my dispute of {prior_dispute_date} concerning {creditor_name} account {masked_account}, you reported the item as {prior_outcome}. Please provide the procedure you used, the documents you reviewed and the name of the person who conducted the reinvestigation.

A verification that consists only of an automated confirmation code is not a reasonable reinvestigation.`,
	},
	"reinvestigation_followup": {
		Subject: "Follow-up on partial correction: {creditor_name} {masked_account}",
		Body: `Your reinvestigation of my dispute dated {prior_dispute_date} corrected part of the {item_type} reported by {creditor_name} under account {masked_account}, but inaccuracies remain in the status "{payment_status}" and the reported balance of {balance}.

Please complete the reinvestigation of the remaining information and delete or correct it.`,
	},
	"re_aging_challenge": {
		Subject: "Improper re-aging: {creditor_name} {masked_account}",
		Body: `The {item_type} reported by {creditor_name} under account {masked_account} shows dates that extend the reporting period beyond what the original delinquency allows. The account was opened on {opened_date}.

The reporting period runs from the original date of delinquency and may not be reset by a sale or transfer of the debt. Please correct the dates or delete the entry.`,
	},
	"metro2_compliance": {
		Subject: "Inconsistent reporting data: {creditor_name} {masked_account}",
		Body: `The {item_type} reported by {creditor_name} under account {masked_account} contains internally inconsistent data: the account is shown as opened on {opened_date} but reported on {reported_date} with status "{payment_status}".

Data that is internally inconsistent cannot be accurate. Please reinvestigate and delete or correct the entry.`,
	},
	"pay_for_delete": {
		Subject: "Settlement offer conditioned on deletion: {masked_account}",
		Body: `Regarding the balance of {balance} you claim on account {masked_account}, without admitting liability I am prepared to resolve this matter on the condition that you request deletion of the account from every consumer reporting agency you report to.

If you agree, please confirm these terms in writing on your letterhead before any payment is made.`,
	},
	"cease_and_desist": {
		Subject: "Demand to cease communication: account {masked_account}",
		Body: `I refuse to pay the debt you claim on account {masked_account} originally with {creditor_name}, and I demand that you cease all further communication with me about it.

You may only contact me again to confirm that collection efforts have ended or to notify me of a specific remedy you intend to invoke.`,
	},
	"cfpb_complaint": {
		Subject: "Complaint regarding reporting of {creditor_name} account {masked_account}",
		Body: `I am filing a complaint about the reporting of a {item_type} from {creditor_name} under account {masked_account} by {bureau_name}. I disputed this entry on {prior_dispute_date} and the result was {prior_outcome}, although the information is inaccurate.

I ask the Bureau to review the handling of my dispute and to require a reasonable reinvestigation.`,
	},
	"state_ag_complaint": {
		Subject: "Consumer complaint: {creditor_name} account {masked_account}",
		Body: `I reside in {jurisdiction} and am submitting a complaint about {creditor_name}, which continues to report account {masked_account} with status "{payment_status}" after my dispute of {prior_dispute_date} ({prior_outcome}).

I request that your office review this conduct under state consumer protection law.`,
	},
	"medical_debt_validation": {
		Subject: "Validation of medical debt: account {masked_account}",
		Body: `You are reporting a medical debt of {balance} under account {masked_account} attributed to {creditor_name}. I dispute this debt and request an itemized statement from the provider, proof of your authority to collect it, and confirmation that any insurance payments were applied.

Medical information may not be reported in a way that discloses the provider or the nature of treatment. Please validate the debt or delete it.`,
	},
	"goodwill_adjustment": {
		Subject: "Goodwill adjustment request: account {masked_account}",
		Body: `I have been a customer of {creditor_name} on account {masked_account} since {opened_date}. My report shows a late payment status of "{payment_status}" that does not reflect my overall payment record.

I ask that, as a gesture of goodwill, you update the reporting of this account to remove the late payment notation.`,
	},
	"hardship_consideration": {
		Subject: "Request for hardship consideration: account {masked_account}",
		Body: `The delinquency reported on {creditor_name} account {masked_account} occurred during a documented period of financial hardship. I have enclosed supporting documentation.

I ask that you consider these circumstances and update the reporting of this account accordingly.`,
	},
	"payment_history_correction": {
		Subject: "Correction of payment history: account {masked_account}",
		Body: `The payment history you report for account {masked_account} shows "{payment_status}". My records show the payments were made as agreed. I disputed this with {bureau_name} on {prior_dispute_date} and the result was {prior_outcome}.

Please review your records, correct the payment history and notify every bureau you report to.`,
	},
	"creditor_executive_escalation": {
		Subject: "Escalation of unresolved dispute: account {masked_account}",
		Body: `I am escalating my dispute of account {masked_account}, reported by {creditor_name} with status "{payment_status}" and a balance of {balance}. My dispute of {prior_dispute_date} was {prior_outcome} without a substantive review.

I ask that a member of your executive office review the file and correct the reporting.`,
	},
	"fcra_intent_to_sue": {
		Subject: "Notice of intent to file suit: {creditor_name} {masked_account}",
		Body: `I have disputed the {item_type} reported by {creditor_name} under account {masked_account} more than once, most recently on {prior_dispute_date}, and each time the inaccurate information was {prior_outcome}.

Unless the entry is deleted within fifteen days of this letter, I intend to file suit for willful and negligent noncompliance and seek actual and statutory damages, costs and fees.`,
	},
	"small_claims_filing": {
		Subject: "Notice of small claims filing: account {masked_account}",
		Body: `Despite repeated disputes, most recently on {prior_dispute_date}, you continue to report account {masked_account} originally with {creditor_name} inaccurately.

I intend to file a claim in the small claims court of {jurisdiction} for damages arising from this reporting unless the entry is corrected or deleted within fifteen days.`,
	},
	"arbitration_demand": {
		Subject: "Demand for arbitration: account {masked_account}",
		Body: `The agreement governing account {masked_account} with {creditor_name} contains an arbitration clause. My disputes, most recently on {prior_dispute_date}, were {prior_outcome}.

I intend to initiate arbitration over the inaccurate reporting of this account. Please confirm whether you will resolve the matter by deleting the entry before I file.`,
	},
	"fdcpa_violation_notice": {
		Subject: "Notice of debt collection violations: account {masked_account}",
		Body: `In collecting the debt claimed on account {masked_account} originally with {creditor_name}, you engaged in conduct prohibited for debt collectors, after my dispute of {prior_dispute_date}.

I am prepared to pursue statutory damages. Cease the conduct described and delete your reporting of this account.`,
	},
}

// Generic templates cover strategies added through catalog overrides.
var genericTemplates = map[directory.Kind]Template{
	directory.KindBureau: {
		Subject: "{strategy_name}: {creditor_name} {masked_account}",
		Body:    bureauReinvestigationBody,
	},
	directory.KindFurnisher: {
		Subject: "{strategy_name}: account {masked_account}",
		Body: `I dispute the information you report on account {masked_account} with status "{payment_status}" and a balance of {balance}. Please investigate, correct or delete the information, and notify every consumer reporting agency you report to.`,
	},
	directory.KindRegulator: {
		Subject: "{strategy_name}: {creditor_name} account {masked_account}",
		Body: `I am submitting a complaint about the reporting of account {masked_account} by {creditor_name}. My dispute of {prior_dispute_date} was {prior_outcome}. I ask that you review the matter.`,
	},
}

// TemplateIDs returns the ids with a dedicated template.
func TemplateIDs() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	return ids
}
