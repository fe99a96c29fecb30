package services

// GraphQL documents sent by the stores. Root fields are aliased so each
// response decodes into a small fixed envelope whatever the role-specific
// field name is.

const missionFields = `
fragment MissionFields on Mission {
  id
  reference
  status
  completionValidated
  rated
  createdAt
  updatedAt
  societaire { id name email phone policyNumber }
  chantier { address city postalCode }
  sinistre { type description urgency occurredAt }
  prestataire { id name company }
}
`

const (
	queryMissionsByAssureur = `query MissionsByAssureur {
  missions: missionsByAssureur { ...MissionFields }
}` + missionFields

	queryMissionsByPrestataire = `query MissionsByPrestataire {
  missions: missionsByPrestataire { ...MissionFields }
}` + missionFields

	queryMissionsBySocietaire = `query MissionsBySocietaire {
  missions: missionsBySocietaire { ...MissionFields }
}` + missionFields

	queryMissionDetails = `query MissionDetails($id: ID!) {
  mission: missionDetails(id: $id) {
    ...MissionFields
    documents { id filename contentType size uploadedBy uploadedAt url }
    comments { id content authorType authorName createdAt }
    history { id action description authorType createdAt }
  }
}` + missionFields

	mutationCreateMission = `mutation CreateMission($input: CreateMissionInput!) {
  mission: createMission(input: $input) { ...MissionFields }
}` + missionFields

	mutationAcceptMission = `mutation AcceptMission($missionId: ID!) {
  mission: acceptMission(missionId: $missionId) { ...MissionFields }
}` + missionFields

	mutationRefuseMission = `mutation RefuseMission($missionId: ID!, $reason: String) {
  mission: refuseMission(missionId: $missionId, reason: $reason) { ...MissionFields }
}` + missionFields

	mutationStartMission = `mutation StartMission($missionId: ID!) {
  mission: startMission(missionId: $missionId) { ...MissionFields }
}` + missionFields

	mutationCompleteMission = `mutation CompleteMission($missionId: ID!) {
  mission: completeMission(missionId: $missionId) { ...MissionFields }
}` + missionFields

	mutationSuspendMission = `mutation SuspendMission($missionId: ID!, $reason: String) {
  mission: suspendMission(missionId: $missionId, reason: $reason) { ...MissionFields }
}` + missionFields

	mutationResumeMission = `mutation ResumeMission($missionId: ID!) {
  mission: resumeMission(missionId: $missionId) { ...MissionFields }
}` + missionFields

	mutationCancelMission = `mutation CancelMission($missionId: ID!, $reason: String) {
  mission: cancelMission(missionId: $missionId, reason: $reason) { ...MissionFields }
}` + missionFields

	mutationValidateMissionCompletion = `mutation ValidateMissionCompletion($missionId: ID!) {
  mission: validateMissionCompletion(missionId: $missionId) { ...MissionFields }
}` + missionFields

	mutationRatePrestataire = `mutation RatePrestataire($input: RatePrestataireInput!) {
  rating: ratePrestataire(input: $input) { missionId rating comment }
}`

	mutationUploadMissionDocument = `mutation UploadMissionDocument($input: UploadMissionDocumentInput!) {
  document: uploadMissionDocument(input: $input) { id filename contentType size uploadedBy uploadedAt url }
}`

	mutationAddComment = `mutation AddMissionComment($input: AddCommentInput!) {
  comment: addMissionComment(input: $input) { id content authorType authorName createdAt }
}`

	queryExportMissions = `query ExportMissions {
  export: exportMissions { url filename }
}`

	queryExportMissionDetails = `query ExportMissionDetails($missionId: ID!) {
  export: exportMissionDetails(missionId: $missionId) { url filename }
}`

	queryExportPrestataireMissions = `query ExportPrestataireMissions {
  export: exportPrestataireMissions { url filename }
}`

	queryExportPrestataireReport = `query ExportPrestataireReport {
  export: exportPrestataireReport { url filename }
}`

	querySubMissions = `query SubMissions($missionId: ID!) {
  subMissions: subMissionsByMission(missionId: $missionId) {
    id missionId specialty description status createdAt
    prestataire { id name company }
  }
}`

	mutationCreateSubMission = `mutation CreateSubMission($input: CreateSubMissionInput!) {
  subMission: createSubMission(input: $input) {
    id missionId specialty description status createdAt
    prestataire { id name company }
  }
}`

	mutationUpdateSubMissionStatus = `mutation UpdateSubMissionStatus($id: ID!, $status: SubMissionStatus!) {
  subMission: updateSubMissionStatus(id: $id, status: $status) {
    id missionId specialty description status createdAt
    prestataire { id name company }
  }
}`
)

const (
	roomFields = `id missionId participants name unreadCount updatedAt
    lastMessage { id roomId senderId content read createdAt }`

	queryChatRooms = `query ChatRooms {
  rooms: myChatRooms { ` + roomFields + ` }
}`

	queryRoomMessages = `query RoomMessages($roomId: ID!) {
  messages: roomMessages(roomId: $roomId) { id roomId senderId content read createdAt }
}`

	mutationSendMessage = `mutation SendMessage($input: SendMessageInput!) {
  message: sendMessage(input: $input) { id roomId senderId content read createdAt }
}`

	mutationCreateChatRoom = `mutation CreateChatRoom($input: CreateChatRoomInput!) {
  room: createChatRoom(input: $input) { ` + roomFields + ` }
}`

	mutationMarkRoomRead = `mutation MarkRoomAsRead($roomId: ID!) {
  ok: markRoomAsRead(roomId: $roomId)
}`

	mutationSetTyping = `mutation SetTyping($roomId: ID!, $isTyping: Boolean!) {
  ok: setTyping(roomId: $roomId, isTyping: $isTyping)
}`

	subscriptionMessageAdded = `subscription OnMessageAdded {
  message: messageAdded { id roomId senderId content read createdAt }
}`

	subscriptionTyping = `subscription OnTyping {
  typing: typingIndicator { roomId userId isTyping }
}`
)
