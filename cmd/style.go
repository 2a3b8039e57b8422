package main

import (
	"strings"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/byzantine-generals/agreement"
	"github.com/luca-patrignani/byzantine-generals/message"
)

func joinIDs(ids []message.ParticipantID) string {
	if len(ids) == 0 {
		return "-"
	}
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}

// reportRow renders one participant as a table row.
func reportRow(rep report) []string {
	role := pterm.LightGreen("loyal")
	if rep.member.Faulty {
		role = pterm.LightRed("faulty")
	}
	if rep.err != nil {
		return []string{rep.member.ID, role, pterm.LightRed(agreement.ErrorKind(rep.err)), rep.err.Error(), "-"}
	}
	return []string{
		rep.member.ID,
		role,
		pterm.LightCyan(string(rep.outcome.Decision)),
		joinIDs(rep.outcome.Discrepant),
		joinIDs(rep.outcome.Missing),
	}
}

func reportTable(reports []report) pterm.TableData {
	data := pterm.TableData{{"General", "Role", "Decision", "Discrepant", "Missing"}}
	for _, rep := range reports {
		data = append(data, reportRow(rep))
	}
	return data
}

func printReports(reports []report) {
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(reportTable(reports)).Render()
}
