package businessflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/amirphl/yamata-dialer/app/dto"
	"github.com/amirphl/yamata-dialer/models"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/xuri/excelize/v2"
)

const exportPageSize = 1000

var exportHeader = []string{
	"id", "phone_number", "status", "attempts_made", "next_attempt_at", "last_attempt_at",
	"last_call_id", "last_call_status", "last_disposition", "last_error", "contact_id",
	"property_id", "enrolled_at", "completed_at",
}

// ExportTargets renders every target of the campaign into a single-sheet workbook
func (f *CallCampaignFlowImpl) ExportTargets(ctx context.Context, req *dto.CampaignActionRequest) (string, []byte, error) {
	campaign, err := f.ownedCampaign(ctx, req.CampaignUUID, req.AgentID)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_TARGETS_FAILED", "Failed to export targets", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := "targets"
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	_ = xl.SetSheetRow(sheet, "A1", &exportHeader)

	filter := models.CallTargetFilter{CampaignID: &campaign.ID}
	row := 2
	for offset := 0; ; offset += exportPageSize {
		targets, err := f.targetRepo.ByFilter(ctx, filter, "id ASC", exportPageSize, offset)
		if err != nil {
			return "", nil, NewBusinessError("EXPORT_TARGETS_FAILED", "Failed to export targets", err)
		}
		for _, t := range targets {
			record := exportRecord(t)
			cellRef, _ := excelize.CoordinatesToCellName(1, row)
			_ = xl.SetSheetRow(sheet, cellRef, &record)
			row++
		}
		if len(targets) < exportPageSize {
			break
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("call_campaign_%s_targets.xlsx", campaign.UUID.String())
	return filename, buf.Bytes(), nil
}

func exportRecord(t *models.CallTarget) []string {
	return []string{
		strconv.FormatUint(uint64(t.ID), 10),
		t.PhoneNumber,
		t.Status.String(),
		strconv.Itoa(t.AttemptsMade),
		utils.TimePtrRFC3339(t.NextAttemptAt),
		utils.TimePtrRFC3339(t.LastAttemptAt),
		utils.Deref(t.LastCallID),
		utils.Deref(t.LastCallStatus),
		utils.Deref(t.LastDisposition),
		utils.Deref(t.LastError),
		optionalID(t.ContactID),
		optionalID(t.PropertyID),
		utils.TimePtrRFC3339(&t.EnrolledAt),
		utils.TimePtrRFC3339(t.CompletedAt),
	}
}

func optionalID(id *uint) string {
	if id == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*id), 10)
}
