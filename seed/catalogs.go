package seed

import "github.com/doug-martin/goqu/v9"

// Entry is one row of a reference catalog
type Entry struct {
	Name        string
	Description string
	Points      int
	Severity    string
}

// Catalog is a fixed list of reference rows for one table
type Catalog struct {
	Name    string
	Table   string
	Entries []Entry
}

// Catalogs are seeded into every new tenant schema, in this order
var Catalogs = []Catalog{
	{
		Name:  "incidentTypes",
		Table: "incident_types",
		Entries: []Entry{
			{"Late to class", "Arrived after the start of the lesson", 1, "low"},
			{"Disruptive behaviour", "Repeatedly disrupting the lesson", 2, "medium"},
			{"Missing homework", "Homework not handed in on time", 1, "low"},
			{"Uniform violation", "Not wearing the required uniform", 1, "low"},
			{"Phone use", "Using a mobile phone during lessons", 2, "medium"},
			{"Disrespect", "Disrespectful language or behaviour towards staff or students", 3, "medium"},
			{"Bullying", "Intimidation or harassment of another student", 5, "high"},
			{"Fighting", "Physical altercation", 5, "high"},
			{"Truancy", "Absent from school without permission", 4, "high"},
		},
	},
	{
		Name:  "meritTypes",
		Table: "merit_types",
		Entries: []Entry{
			{Name: "Excellent work", Description: "Work of an outstanding standard", Points: 2},
			{Name: "Helping others", Description: "Supporting classmates or staff", Points: 1},
			{Name: "Improvement", Description: "Clear progress over recent work", Points: 1},
			{Name: "Leadership", Description: "Leading a group or activity responsibly", Points: 2},
			{Name: "Good attendance", Description: "Full attendance over the period", Points: 1},
			{Name: "Community service", Description: "Contribution to the school community", Points: 3},
		},
	},
	{
		Name:  "interventionTypes",
		Table: "intervention_types",
		Entries: []Entry{
			{Name: "Parent meeting", Description: "Meeting with parents or guardians"},
			{Name: "Detention", Description: "Supervised detention after school"},
			{Name: "Counselling", Description: "Referral to the school counsellor"},
			{Name: "Behaviour contract", Description: "Written agreement on expected behaviour"},
			{Name: "Mentoring", Description: "Regular sessions with a staff mentor"},
		},
	},
}

// row returns the insert record for e in catalog c
func (c Catalog) row(tenantID int64, e Entry) goqu.Record {
	r := goqu.Record{
		"school_id":   tenantID,
		"name":        e.Name,
		"description": e.Description,
	}
	switch c.Table {
	case "incident_types":
		r["points"] = e.Points
		r["severity"] = e.Severity
	case "merit_types":
		r["points"] = e.Points
	}
	return r
}
