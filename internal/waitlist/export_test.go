package waitlist

const ListTicketsQuery = listTicketsQuery
